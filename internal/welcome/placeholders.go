package welcome

import (
	"strconv"
	"strings"
	"time"
)

const (
	UnknownOwner      = "Desconocido"
	DefaultDateLayout = "02/01/2006 15:04"
	avatarToken       = "{user_avatar}"
)

// MemberJoinContext is everything a template may reference for one join.
type MemberJoinContext struct {
	UserID      string
	Username    string
	Tag         string
	Mention     string
	AvatarURL   string
	GuildID     string
	GuildName   string
	MemberCount int
	// OwnerMention is empty when the owner could not be resolved.
	OwnerMention string
	Now          time.Time
	DateLayout   string
}

// Resolve replaces every recognized placeholder in template. Unknown tokens
// are left untouched and substituted values are never scanned again.
func Resolve(template string, ctx MemberJoinContext) string {
	if !strings.Contains(template, "{") {
		return template
	}
	return ctx.replacer().Replace(template)
}

func (c MemberJoinContext) replacer() *strings.Replacer {
	owner := c.OwnerMention
	if owner == "" {
		owner = UnknownOwner
	}
	layout := c.DateLayout
	if layout == "" {
		layout = DefaultDateLayout
	}
	count := strconv.Itoa(c.MemberCount)

	return strings.NewReplacer(
		"{mention}", c.Mention,
		"{usuario}", c.Mention,
		"{user.tag}", c.Tag,
		"{user.id}", c.UserID,
		"{user}", c.Username,
		"{nombre}", c.Username,
		"{server.member_count}", count,
		"{server.id}", c.GuildID,
		"{server}", c.GuildName,
		"{servidor}", c.GuildName,
		"{miembros}", count,
		"{owner.mention}", owner,
		"{date}", c.Now.Format(layout),
		avatarToken, c.AvatarURL,
	)
}
