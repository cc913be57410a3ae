package raid

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Participant is a user's membership in a raid with running totals.
//
// Invariant: DamageDealt equals the sum of the participant's contribution
// damage and ContributionCount their number.
type Participant struct {
	ID                uuid.UUID
	RaidID            uuid.UUID
	UserID            uuid.UUID
	DamageDealt       int
	ContributionCount int
	JoinedAt          time.Time
}

// NewParticipant returns a zero-total participant for userID in raidID.
func NewParticipant(raidID, userID uuid.UUID, now time.Time) *Participant {
	return &Participant{
		ID:       uuid.New(),
		RaidID:   raidID,
		UserID:   userID,
		JoinedAt: now,
	}
}

// Record adds one contribution of damage to the participant's totals.
func (p *Participant) Record(damage int) {
	p.DamageDealt += damage
	p.ContributionCount++
}

// Contribution is one append-only logged attack on a raid boss.
type Contribution struct {
	ID            uuid.UUID
	RaidID        uuid.UUID
	ParticipantID uuid.UUID
	Description   string
	DamageAmount  int
	ProofImageURL string
	CreatedAt     time.Time
}

// NormalizeDescription trims desc and rejects an empty result.
//
// Postcondition: Returns the trimmed description or ErrInvalidContribution.
func NormalizeDescription(desc string) (string, error) {
	d := strings.TrimSpace(desc)
	if d == "" {
		return "", ErrInvalidContribution
	}
	return d, nil
}

// NewContribution builds a contribution row for p.
//
// Precondition: description is already normalized and damage > 0.
func NewContribution(p *Participant, description string, damage int, proofImageURL string, now time.Time) (*Contribution, error) {
	if damage <= 0 {
		return nil, fmt.Errorf("contribution damage must be positive, got %d", damage)
	}
	return &Contribution{
		ID:            uuid.New(),
		RaidID:        p.RaidID,
		ParticipantID: p.ID,
		Description:   description,
		DamageAmount:  damage,
		ProofImageURL: proofImageURL,
		CreatedAt:     now,
	}, nil
}

// SortByDamage orders participants by damage dealt descending, then by
// join time ascending.
func SortByDamage(ps []*Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].DamageDealt != ps[j].DamageDealt {
			return ps[i].DamageDealt > ps[j].DamageDealt
		}
		return ps[i].JoinedAt.Before(ps[j].JoinedAt)
	})
}
