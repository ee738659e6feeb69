package player

import (
	"fmt"
	"strings"
)

// Role represents the combat role a player filled during one fight.
// Roles are recorded per fight, not globally, because members re-spec
// between pulls.
type Role string

const (
	RoleTank   Role = "tank"
	RoleHealer Role = "healer"
	RoleDPS    Role = "dps"
)

var AllRoles = map[Role]struct{}{
	RoleTank:   {},
	RoleHealer: {},
	RoleDPS:    {},
}

// ParseRole normalizes and validates a role string from an external
// payload.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := AllRoles[role]; !ok {
		return "", fmt.Errorf("unknown role %q", value)
	}
	return role, nil
}

// Player is one guild member appearing in the tracked log set.
type Player struct {
	ID    string
	Name  string
	Class string
	Spec  string
}

func (p Player) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("player id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("player name is required")
	}

	return nil
}
