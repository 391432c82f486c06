package welcome

import (
	"reflect"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestFilterGrantable(t *testing.T) {
	positions := map[string]int{"A": 1, "B": 7, "C": 3}
	got := FilterGrantable([]string{"A", "B", "C"}, 5, positions)
	if !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Fatalf("expected [A C], got %v", got)
	}
}

func TestFilterGrantableDropsUnknownAndEqual(t *testing.T) {
	positions := map[string]int{"A": 5, "C": 2}
	got := FilterGrantable([]string{"X", "A", "C"}, 5, positions)
	if !reflect.DeepEqual(got, []string{"C"}) {
		t.Fatalf("expected [C], got %v", got)
	}
}

func TestHighestPosition(t *testing.T) {
	roles := []*discordgo.Role{{ID: "a", Position: 2}, {ID: "b", Position: 9}, {ID: "c", Position: 4}}
	if got := HighestPosition([]string{"a", "c", "missing"}, roles); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
	if got := HighestPosition(nil, roles); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestAssignableRoles(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "g1", Name: "@everyone", Position: 0},
		{ID: "low", Name: "low", Position: 1},
		{ID: "bot", Name: "bot", Position: 6, Managed: true},
		{ID: "high", Name: "high", Position: 8},
		{ID: "mid", Name: "mid", Position: 4},
	}
	got := AssignableRoles("g1", roles, 5)
	if len(got) != 3 {
		t.Fatalf("expected 3 roles, got %+v", got)
	}
	if got[0].ID != "high" || got[1].ID != "mid" || got[2].ID != "low" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[0].Assignable || !got[1].Assignable || !got[2].Assignable {
		t.Fatalf("unexpected assignable flags %+v", got)
	}
}
