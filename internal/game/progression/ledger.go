package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidAmount is returned when an XP grant is not a positive integer.
var ErrInvalidAmount = errors.New("xp amount must be positive")

// ErrInvalidSource is returned when an XP grant carries a source tag outside
// the known set.
var ErrInvalidSource = errors.New("unknown xp source")

// Source tags the reason for an XP grant.
type Source string

const (
	SourceQuestComplete    Source = "quest_complete"
	SourceRaidContribution Source = "raid_contribution"
	SourceRaidVictory      Source = "raid_victory"
	SourceAdjustment       Source = "adjustment"
)

// Valid reports whether s is one of the known source tags. The xp_transactions
// table carries the same set as a CHECK constraint.
func (s Source) Valid() bool {
	switch s {
	case SourceQuestComplete, SourceRaidContribution, SourceRaidVictory, SourceAdjustment:
		return true
	}
	return false
}

// Transaction is one append-only XP ledger row.
type Transaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      int
	Source      Source
	SourceID    *uuid.UUID
	Description string
	CreatedAt   time.Time
}

// Standing is the cached projection of the ledger stored on a character.
type Standing struct {
	XP    int
	Level int
}

// LedgerTx is the slice of a store transaction the ledger needs.
// All three calls must run inside the same atomic unit.
type LedgerTx interface {
	// LockStanding reads the user's cached xp/level and holds it until commit.
	LockStanding(ctx context.Context, userID uuid.UUID) (Standing, error)
	// SaveStanding overwrites the user's cached xp/level.
	SaveStanding(ctx context.Context, userID uuid.UUID, s Standing) error
	// AppendTransaction inserts a ledger row.
	AppendTransaction(ctx context.Context, t *Transaction) error
}

// Grant describes an XP award.
type Grant struct {
	UserID      uuid.UUID
	Amount      int
	Source      Source
	SourceID    *uuid.UUID
	Description string
}

// Result reports the effect of one applied grant.
type Result struct {
	UserID        uuid.UUID
	PreviousXP    int
	NewXP         int
	PreviousLevel int
	NewLevel      int
	LeveledUp     bool
	Transaction   *Transaction
}

// Ledger applies XP grants against a level curve. It is the only writer of
// a character's xp and level.
type Ledger struct {
	curve *Curve
	now   func() time.Time
}

// NewLedger returns a Ledger over curve using now as its timestamp source.
//
// Precondition: curve must be non-nil; a nil now defaults to time.Now.
func NewLedger(curve *Curve, now func() time.Time) *Ledger {
	if curve == nil {
		panic("progression.NewLedger: precondition violated: curve must be non-nil")
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{curve: curve, now: now}
}

// Curve returns the ledger's level curve.
func (l *Ledger) Curve() *Curve {
	return l.curve
}

// Apply increments the user's XP by g.Amount, appends the ledger row and
// recomputes the level, all through tx.
//
// Precondition: tx must be an open transaction; the caller commits or rolls back.
// Postcondition: On success NewXP == PreviousXP + Amount and
// NewLevel == Curve().LevelForXP(NewXP). Returns ErrInvalidAmount for
// Amount <= 0 and ErrInvalidSource for an unknown source without touching tx.
func (l *Ledger) Apply(ctx context.Context, tx LedgerTx, g Grant) (Result, error) {
	if g.Amount <= 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, g.Amount)
	}
	if !g.Source.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidSource, g.Source)
	}

	before, err := tx.LockStanding(ctx, g.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("locking standing: %w", err)
	}

	after := Standing{XP: before.XP + g.Amount}
	after.Level = l.curve.LevelForXP(after.XP)

	entry := &Transaction{
		ID:          uuid.New(),
		UserID:      g.UserID,
		Amount:      g.Amount,
		Source:      g.Source,
		SourceID:    g.SourceID,
		Description: g.Description,
		CreatedAt:   l.now().UTC(),
	}
	if err := tx.AppendTransaction(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("appending xp transaction: %w", err)
	}
	if err := tx.SaveStanding(ctx, g.UserID, after); err != nil {
		return Result{}, fmt.Errorf("saving standing: %w", err)
	}

	return Result{
		UserID:        g.UserID,
		PreviousXP:    before.XP,
		NewXP:         after.XP,
		PreviousLevel: before.Level,
		NewLevel:      after.Level,
		LeveledUp:     after.Level > before.Level,
		Transaction:   entry,
	}, nil
}
