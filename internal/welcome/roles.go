package welcome

import (
	"sort"

	"github.com/bwmarrin/discordgo"
)

// FilterGrantable keeps the requested roles that exist in positions and sit
// strictly below botPosition, preserving the request order. Unknown ids are
// dropped without error since roles may be deleted after a config is saved.
func FilterGrantable(requested []string, botPosition int, positions map[string]int) []string {
	grantable := make([]string, 0, len(requested))
	for _, roleID := range requested {
		position, ok := positions[roleID]
		if !ok || position >= botPosition {
			continue
		}
		grantable = append(grantable, roleID)
	}
	return grantable
}

// RolePositions indexes roles by id.
func RolePositions(roles []*discordgo.Role) map[string]int {
	positions := make(map[string]int, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		positions[role.ID] = role.Position
	}
	return positions
}

// HighestPosition is the position of the highest role in memberRoles, or 0
// when the member holds none of the listed roles.
func HighestPosition(memberRoles []string, roles []*discordgo.Role) int {
	positions := RolePositions(roles)
	highest := 0
	for _, roleID := range memberRoles {
		if position, ok := positions[roleID]; ok && position > highest {
			highest = position
		}
	}
	return highest
}

type AssignableRole struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      int    `json:"color"`
	Position   int    `json:"position"`
	Assignable bool   `json:"assignable"`
}

// AssignableRoles lists the configurable roles of a guild, highest first,
// skipping @everyone and integration-managed roles.
func AssignableRoles(guildID string, roles []*discordgo.Role, botPosition int) []AssignableRole {
	out := make([]AssignableRole, 0, len(roles))
	for _, role := range roles {
		if role == nil || role.ID == guildID || role.Managed {
			continue
		}
		out = append(out, AssignableRole{
			ID:         role.ID,
			Name:       role.Name,
			Color:      role.Color,
			Position:   role.Position,
			Assignable: role.Position < botPosition,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position > out[j].Position
	})
	return out
}
