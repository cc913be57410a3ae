// Package raid holds the cooperative boss-fight rules: the health pool,
// status resolution, participants and the damage formula.
package raid

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRaid is returned when a raid draft fails validation.
	ErrInvalidRaid = errors.New("invalid raid")
	// ErrRaidNotJoinable is returned when joining or contributing to a raid
	// that is not currently active.
	ErrRaidNotJoinable = errors.New("raid is not active")
	// ErrNotAParticipant is returned when a user contributes before joining.
	ErrNotAParticipant = errors.New("user has not joined this raid")
	// ErrInvalidContribution is returned when a contribution description is blank.
	ErrInvalidContribution = errors.New("contribution description must not be empty")
)

// Status is the lifecycle state of a raid.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether s can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusActive, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Raid is a time-boxed shared boss fight.
//
// Invariant: 0 <= BossCurrentHealth <= BossMaxHealth; health never increases;
// a terminal status is never left.
type Raid struct {
	ID                uuid.UUID
	Title             string
	Description       string
	BossName          string
	BossImageURL      string
	BossMaxHealth     int
	BossCurrentHealth int
	XPPerContribution int
	CompletionBonusXP int
	StartsAt          time.Time
	EndsAt            time.Time
	Status            Status
	CreatedAt         time.Time
}

// Draft carries the caller-supplied fields of a new raid.
type Draft struct {
	Title             string
	Description       string
	BossName          string
	BossImageURL      string
	BossMaxHealth     int
	XPPerContribution int
	CompletionBonusXP int
	StartsAt          time.Time
	EndsAt            time.Time
}

// New validates d and returns a raid at full health whose status is derived
// from now.
//
// Postcondition: Returns a Raid or an error wrapping ErrInvalidRaid.
func New(d Draft, now time.Time) (*Raid, error) {
	var problems []string
	if strings.TrimSpace(d.Title) == "" {
		problems = append(problems, "title must not be empty")
	}
	if strings.TrimSpace(d.BossName) == "" {
		problems = append(problems, "boss name must not be empty")
	}
	if d.BossMaxHealth <= 0 {
		problems = append(problems, fmt.Sprintf("boss max health must be positive, got %d", d.BossMaxHealth))
	}
	if d.XPPerContribution < 0 {
		problems = append(problems, "xp per contribution must not be negative")
	}
	if d.CompletionBonusXP < 0 {
		problems = append(problems, "completion bonus must not be negative")
	}
	if !d.EndsAt.After(d.StartsAt) {
		problems = append(problems, "ends_at must be after starts_at")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRaid, strings.Join(problems, "; "))
	}
	r := &Raid{
		ID:                uuid.New(),
		Title:             strings.TrimSpace(d.Title),
		Description:       strings.TrimSpace(d.Description),
		BossName:          strings.TrimSpace(d.BossName),
		BossImageURL:      d.BossImageURL,
		BossMaxHealth:     d.BossMaxHealth,
		BossCurrentHealth: d.BossMaxHealth,
		XPPerContribution: d.XPPerContribution,
		CompletionBonusXP: d.CompletionBonusXP,
		StartsAt:          d.StartsAt,
		EndsAt:            d.EndsAt,
		CreatedAt:         now,
	}
	r.Status = r.StatusAt(now)
	return r, nil
}

// StatusAt resolves the raid's status at now. Terminal statuses are returned
// unchanged; otherwise health and the [StartsAt, EndsAt) window decide.
func (r *Raid) StatusAt(now time.Time) Status {
	if r.Status.IsTerminal() {
		return r.Status
	}
	switch {
	case r.BossCurrentHealth <= 0:
		return StatusCompleted
	case !now.Before(r.EndsAt):
		return StatusFailed
	case now.Before(r.StartsAt):
		return StatusUpcoming
	default:
		return StatusActive
	}
}

// CheckActive returns nil if the raid accepts joins and contributions at now.
//
// Postcondition: Returns an error wrapping ErrRaidNotJoinable otherwise.
func (r *Raid) CheckActive(now time.Time) error {
	if s := r.StatusAt(now); s != StatusActive {
		return fmt.Errorf("%w: raid %s is %s", ErrRaidNotJoinable, r.ID, s)
	}
	return nil
}

// Advance moves a non-terminal raid to the status the clock implies.
// It reports the previous status and whether anything changed.
//
// Postcondition: A terminal raid is never modified.
func (r *Raid) Advance(now time.Time) (Status, bool) {
	prev := r.Status
	if prev.IsTerminal() {
		return prev, false
	}
	next := r.StatusAt(now)
	if next == prev {
		return prev, false
	}
	r.Status = next
	return prev, true
}

// ApplyDamage subtracts amount from the boss health, floored at 0. Reaching 0
// marks the raid completed.
//
// Precondition: amount > 0.
// Postcondition: Returns the health before and after, and defeated == true
// only for the call that moved health from non-zero to zero. Returns
// ErrRaidNotJoinable without change if health was already 0.
func (r *Raid) ApplyDamage(amount int) (before, after int, defeated bool, err error) {
	before = r.BossCurrentHealth
	if before <= 0 {
		return before, before, false, fmt.Errorf("%w: boss of raid %s already defeated", ErrRaidNotJoinable, r.ID)
	}
	after = before - amount
	if after < 0 {
		after = 0
	}
	r.BossCurrentHealth = after
	if DefeatingBlow(before, after) {
		r.Status = StatusCompleted
		defeated = true
	}
	return before, after, defeated, nil
}

// DefeatingBlow reports whether a health change from before to after is the
// one that defeated the boss. A re-decrement at 0 never is.
func DefeatingBlow(before, after int) bool {
	return before > 0 && after == 0
}

// HealthPercent returns the boss's remaining health as a percentage of max.
func (r *Raid) HealthPercent() float64 {
	if r.BossMaxHealth <= 0 {
		return 0
	}
	return float64(r.BossCurrentHealth) / float64(r.BossMaxHealth) * 100
}
