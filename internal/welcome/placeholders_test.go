package welcome

import (
	"testing"
	"time"
)

func sampleJoin() MemberJoinContext {
	return MemberJoinContext{
		UserID:       "42",
		Username:     "Bob",
		Tag:          "Bob#0001",
		Mention:      "<@42>",
		AvatarURL:    "https://cdn.example/avatars/42.png?size=256",
		GuildID:      "g1",
		GuildName:    "Cafe",
		MemberCount:  17,
		OwnerMention: "<@1>",
		Now:          time.Date(2024, 3, 5, 9, 7, 0, 0, time.UTC),
	}
}

func TestResolveAllTokens(t *testing.T) {
	ctx := sampleJoin()
	cases := map[string]string{
		"{mention}":             "<@42>",
		"{usuario}":             "<@42>",
		"{user}":                "Bob",
		"{nombre}":              "Bob",
		"{user.tag}":            "Bob#0001",
		"{user.id}":             "42",
		"{server}":              "Cafe",
		"{servidor}":            "Cafe",
		"{server.id}":           "g1",
		"{server.member_count}": "17",
		"{miembros}":            "17",
		"{owner.mention}":       "<@1>",
		"{date}":                "05/03/2024 09:07",
		"{user_avatar}":         ctx.AvatarURL,
		"plain":                 "plain",
		"{unknown} {nombre}":    "{unknown} Bob",
		"{nombre} y {nombre}":   "Bob y Bob",
	}
	for template, want := range cases {
		if got := Resolve(template, ctx); got != want {
			t.Fatalf("Resolve(%q) = %q, want %q", template, got, want)
		}
	}
}

func TestResolveMissingOwner(t *testing.T) {
	ctx := sampleJoin()
	ctx.OwnerMention = ""
	if got := Resolve("owner: {owner.mention}", ctx); got != "owner: Desconocido" {
		t.Fatalf("unexpected owner fallback %q", got)
	}
}

func TestResolveDoesNotRescanValues(t *testing.T) {
	ctx := sampleJoin()
	ctx.Username = "{server}"
	if got := Resolve("Hi {nombre}", ctx); got != "Hi {server}" {
		t.Fatalf("substituted value was rescanned: %q", got)
	}
}

func TestResolveCustomDateLayout(t *testing.T) {
	ctx := sampleJoin()
	ctx.DateLayout = "2006-01-02"
	if got := Resolve("{date}", ctx); got != "2024-03-05" {
		t.Fatalf("unexpected date %q", got)
	}
}
