package welcome

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	BrandColor = 0x5865F2
	maxColor   = 0xFFFFFF
)

// EmbedSpec is the canonical welcome embed. Empty strings mean absent.
type EmbedSpec struct {
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	Color        int    `json:"color"`
	ImageURL     string `json:"image,omitempty"`
	ThumbnailURL string `json:"thumbnail,omitempty"`
	FooterText   string `json:"footer,omitempty"`
}

// Empty reports whether the spec has nothing Discord would render.
func (e *EmbedSpec) Empty() bool {
	return e == nil || (e.Title == "" && e.Description == "" && e.ImageURL == "" && e.ThumbnailURL == "" && e.FooterText == "")
}

// Normalize turns a stored embed blob (JSON text or decoded object, possibly
// using the legacy Spanish field names) into an EmbedSpec. It returns nil for
// absent, malformed or unrepresentable input.
func Normalize(raw any) *EmbedSpec {
	fields, ok := decodeBlob(raw)
	if !ok {
		return nil
	}

	color, ok := parseColor(fields["color"])
	if !ok {
		return nil
	}

	return &EmbedSpec{
		Title:        firstText(fields, "title", "titulo"),
		Description:  firstText(fields, "description", "descripcion"),
		Color:        color,
		ImageURL:     firstNested(fields, "url", "image", "imagen"),
		ThumbnailURL: firstNested(fields, "url", "thumbnail"),
		FooterText:   firstNested(fields, "text", "footer"),
	}
}

// Render resolves placeholders in every field and builds the Discord embed.
// A thumbnail carrying {user_avatar} gets the member's avatar URL directly.
func (e *EmbedSpec) Render(ctx MemberJoinContext) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	return e.build(func(text string) string { return Resolve(text, ctx) }, e.thumbnail(ctx))
}

// Plain builds the embed with every field taken literally.
func (e *EmbedSpec) Plain() *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	return e.build(func(text string) string { return text }, e.ThumbnailURL)
}

func (e *EmbedSpec) build(fill func(string) string, thumbnail string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       fill(e.Title),
		Description: fill(e.Description),
		Color:       e.Color,
	}
	if url := fill(e.ImageURL); url != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: url}
	}
	if thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumbnail}
	}
	if text := fill(e.FooterText); text != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: text}
	}
	return embed
}

func (e *EmbedSpec) thumbnail(ctx MemberJoinContext) string {
	thumb := e.ThumbnailURL
	if thumb == avatarToken {
		return ctx.AvatarURL
	}
	if strings.Contains(thumb, avatarToken) {
		thumb = strings.ReplaceAll(thumb, avatarToken, ctx.AvatarURL)
	}
	return Resolve(thumb, ctx)
}

func decodeBlob(raw any) (map[string]any, bool) {
	var data []byte
	switch value := raw.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return value, true
	case *EmbedSpec:
		if value == nil {
			return nil, false
		}
		data, _ = json.Marshal(value)
	case EmbedSpec:
		data, _ = json.Marshal(value)
	case json.RawMessage:
		data = value
	case []byte:
		data = value
	case string:
		data = []byte(value)
	default:
		return nil, false
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, false
	}
	switch value := decoded.(type) {
	case map[string]any:
		return value, true
	case string:
		// Double-encoded blob from an older writer.
		var fields map[string]any
		if err := json.Unmarshal([]byte(value), &fields); err != nil || fields == nil {
			return nil, false
		}
		return fields, true
	default:
		return nil, false
	}
}

func firstText(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if text := asText(fields[key]); text != "" {
			return text
		}
	}
	return ""
}

// firstNested accepts either a bare string or an object holding it under inner.
func firstNested(fields map[string]any, inner string, keys ...string) string {
	for _, key := range keys {
		switch value := fields[key].(type) {
		case string:
			if value != "" {
				return value
			}
		case map[string]any:
			if text := asText(value[inner]); text != "" {
				return text
			}
		}
	}
	return ""
}

func asText(value any) string {
	if text, ok := value.(string); ok {
		return text
	}
	return ""
}

func parseColor(value any) (int, bool) {
	switch color := value.(type) {
	case nil:
		return BrandColor, true
	case float64:
		if color != math.Trunc(color) {
			return 0, false
		}
		return checkColor(int64(color))
	case int:
		return checkColor(int64(color))
	case string:
		color = strings.TrimSpace(color)
		if color == "" {
			return BrandColor, true
		}
		if strings.HasPrefix(color, "#") {
			parsed, err := strconv.ParseInt(strings.TrimPrefix(color, "#"), 16, 64)
			if err != nil {
				return 0, false
			}
			return checkColor(parsed)
		}
		parsed, err := strconv.ParseInt(color, 10, 64)
		if err != nil {
			return 0, false
		}
		return checkColor(parsed)
	default:
		return 0, false
	}
}

func checkColor(value int64) (int, bool) {
	if value < 0 || value > maxColor {
		return 0, false
	}
	return int(value), true
}
