package dashboard

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSealerRoundTrip(t *testing.T) {
	sealer, err := newTokenSealer("secret")
	require.NoError(t, err)

	sealed, err := sealer.Seal("access-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "access-token")

	again, err := sealer.Seal("access-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce should differ per seal")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "access-token", opened)
}

func TestDeriveTokenKey(t *testing.T) {
	first, err := deriveTokenKey("secret")
	require.NoError(t, err)
	again, err := deriveTokenKey("secret")
	require.NoError(t, err)
	other, err := deriveTokenKey("different")
	require.NoError(t, err)

	assert.Len(t, first, 32)
	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)

	plain := sha256.Sum256([]byte("secret"))
	assert.False(t, bytes.Equal(first, plain[:]), "key must go through the KDF, not a bare hash")
}

func TestTokenSealerRejectsOtherKey(t *testing.T) {
	sealer, err := newTokenSealer("secret")
	require.NoError(t, err)
	other, err := newTokenSealer("different")
	require.NoError(t, err)

	sealed, err := sealer.Seal("access-token")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.Error(t, err)
	fromOther, err := other.Seal("access-token")
	require.NoError(t, err)
	_, err = sealer.Open(fromOther)
	assert.Error(t, err)
	_, err = sealer.Open("not base64!")
	assert.Error(t, err)
	_, err = sealer.Open("c2hvcnQ=")
	assert.Error(t, err)
}

func TestTokenSealerEmpty(t *testing.T) {
	sealer, err := newTokenSealer("secret")
	require.NoError(t, err)

	sealed, err := sealer.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := sealer.Open("")
	require.NoError(t, err)
	assert.Empty(t, opened)

	_, err = newTokenSealer("")
	assert.Error(t, err)
}
