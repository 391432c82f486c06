package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.WelcomeHandled("text", true)
	m.WelcomeHandled("text", true)
	m.WelcomeHandled("", false)
	m.RoleGrants(2, 1, 0)
	m.StatsRefreshed("cached")
	m.AuditRecorded("WARN", "embed_failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.welcomes.WithLabelValues("text", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.welcomes.WithLabelValues("none", "not_sent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.roleGrants.WithLabelValues("granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statsRefresh.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditEvents.WithLabelValues("WARN", "embed_failed")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.WelcomeHandled("text", true)
	m.RoleGrants(1, 1, 1)
	m.StatsRefreshed("ok")
	m.GuildRequest("200")
	m.AuditRecorded("INFO", "embed_sent")
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.GuildRequest("429")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `welcomer_dashboard_guild_requests_total{status="429"} 1`))
}
