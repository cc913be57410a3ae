package character

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gymguild/internal/game/ruleset"
)

const (
	// BaseAttribute is the starting value of every attribute before bonuses.
	BaseAttribute = 10
	// MinAttribute is the floor applied after bonuses.
	MinAttribute = 1
)

// ErrInvalidName is returned when a character name is blank.
var ErrInvalidName = errors.New("character name must not be empty")

// Templates resolves race and class ids to their templates.
// *ruleset.Ruleset satisfies it.
type Templates interface {
	Race(id string) (*ruleset.Race, error)
	Class(id string) (*ruleset.Class, error)
}

// applyBonuses adds each template's bonus map onto the base attributes.
func applyBonuses(a Attributes, templates ...*ruleset.Template) Attributes {
	for _, t := range templates {
		a.Strength += t.Bonus(ruleset.Strength)
		a.Agility += t.Bonus(ruleset.Agility)
		a.Constitution += t.Bonus(ruleset.Constitution)
		a.Wisdom += t.Bonus(ruleset.Wisdom)
	}
	return a
}

func floor(v int) int {
	if v < MinAttribute {
		return MinAttribute
	}
	return v
}

// ComputeBaseStats derives a new character's attributes from its race and
// class: each attribute is BaseAttribute plus both template bonuses,
// floored at MinAttribute.
//
// Precondition: templates must be non-nil.
// Postcondition: Returns attributes all >= MinAttribute, or an error wrapping
// ruleset.ErrInvalidTemplate if either id is unknown. Deterministic.
func ComputeBaseStats(templates Templates, raceID, classID string) (Attributes, error) {
	race, err := templates.Race(raceID)
	if err != nil {
		return Attributes{}, err
	}
	class, err := templates.Class(classID)
	if err != nil {
		return Attributes{}, err
	}
	a := applyBonuses(Attributes{
		Strength:     BaseAttribute,
		Agility:      BaseAttribute,
		Constitution: BaseAttribute,
		Wisdom:       BaseAttribute,
	}, &race.Template, &class.Template)
	return Attributes{
		Strength:     floor(a.Strength),
		Agility:      floor(a.Agility),
		Constitution: floor(a.Constitution),
		Wisdom:       floor(a.Wisdom),
	}, nil
}

// Build constructs a level-1, zero-XP character for userID.
//
// Precondition: templates must be non-nil.
// Postcondition: Returns a Character ready for persistence, or ErrInvalidName /
// an error wrapping ruleset.ErrInvalidTemplate.
func Build(templates Templates, userID uuid.UUID, name, raceID, classID string, now time.Time) (*Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	attrs, err := ComputeBaseStats(templates, raceID, classID)
	if err != nil {
		return nil, fmt.Errorf("building character %q: %w", name, err)
	}
	return &Character{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       name,
		Race:       raceID,
		Class:      classID,
		Attributes: attrs,
		XP:         0,
		Level:      1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
