// Package character defines the character domain model and the pure
// attribute builder used at onboarding.
package character

import (
	"time"

	"github.com/google/uuid"
)

// Attributes holds the four trainable attribute values for a character.
type Attributes struct {
	Strength     int
	Agility      int
	Constitution int
	Wisdom       int
}

// Get returns the attribute value named by one of the ruleset attribute
// names, or 0 for an unknown name.
func (a Attributes) Get(name string) int {
	switch name {
	case "strength":
		return a.Strength
	case "agility":
		return a.Agility
	case "constitution":
		return a.Constitution
	case "wisdom":
		return a.Wisdom
	}
	return 0
}

// Character represents a user's persistent in-game avatar.
//
// XP and Level are a cached projection of the XP ledger; only the
// progression ledger writes them.
type Character struct {
	ID     uuid.UUID
	UserID uuid.UUID

	Name  string
	Race  string // race template ID
	Class string // class template ID

	Attributes Attributes
	XP         int
	Level      int

	CreatedAt time.Time
	UpdatedAt time.Time
}
