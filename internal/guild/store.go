package guild

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/quest"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
)

var (
	// ErrCharacterNotFound is returned when a user has no character.
	ErrCharacterNotFound = errors.New("character not found")
	// ErrCharacterExists is returned when a user already has a character.
	ErrCharacterExists = errors.New("user already has a character")
	// ErrQuestNotFound is returned for an unknown quest id.
	ErrQuestNotFound = errors.New("quest not found")
	// ErrRaidNotFound is returned for an unknown raid id.
	ErrRaidNotFound = errors.New("raid not found")
	// ErrConcurrencyConflict is returned when a guarded update lost a race
	// or the backing store aborted the transaction to serialize it.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)

// Store is the persistence collaborator. Every mutation runs inside WithinTx;
// reads outside a transaction see only committed state.
type Store interface {
	Reader

	// WithinTx runs fn inside one atomic unit. The unit commits only if fn
	// returns nil and ctx is still live; otherwise nothing fn wrote is visible.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader is the read side of the store.
type Reader interface {
	Character(ctx context.Context, userID uuid.UUID) (*character.Character, error)
	Quest(ctx context.Context, id uuid.UUID) (*quest.Quest, error)
	QuestsByCreator(ctx context.Context, userID uuid.UUID) ([]*quest.Quest, error)
	// PublicQuests lists up to limit public quests not created by viewer,
	// newest first.
	PublicQuests(ctx context.Context, viewer uuid.UUID, limit int) ([]*quest.Quest, error)
	// QuestSupports lists the quest's supports, oldest first.
	QuestSupports(ctx context.Context, questID uuid.UUID) ([]*quest.Support, error)
	Raid(ctx context.Context, id uuid.UUID) (*raid.Raid, error)
	// OpenRaids lists raids whose stored status is not terminal.
	OpenRaids(ctx context.Context) ([]*raid.Raid, error)
	Participants(ctx context.Context, raidID uuid.UUID) ([]*raid.Participant, error)
	Contributions(ctx context.Context, raidID uuid.UUID) ([]*raid.Contribution, error)
	// Leaderboard lists up to limit characters ordered by xp descending,
	// ties broken by creation time.
	Leaderboard(ctx context.Context, limit int) ([]*character.Character, error)
	Transactions(ctx context.Context, userID uuid.UUID) ([]*progression.Transaction, error)
	// SumXP returns the sum of the user's ledger amounts.
	SumXP(ctx context.Context, userID uuid.UUID) (int, error)
}

// Tx is the write side available inside WithinTx. Lock methods hold the row
// until the unit ends.
type Tx interface {
	progression.LedgerTx

	InsertCharacter(ctx context.Context, c *character.Character) error
	LockCharacter(ctx context.Context, userID uuid.UUID) (*character.Character, error)

	InsertQuest(ctx context.Context, q *quest.Quest) error
	LockQuest(ctx context.Context, id uuid.UUID) (*quest.Quest, error)
	// UpdateQuest persists q's status, proof and completion time only if the
	// stored status still equals from; otherwise ErrConcurrencyConflict.
	UpdateQuest(ctx context.Context, q *quest.Quest, from quest.Status) error
	// UpsertSupport stores s, replacing the emoji of an existing support by
	// the same supporter on the same quest. It returns the stored row and
	// whether it was newly inserted.
	UpsertSupport(ctx context.Context, s *quest.Support) (*quest.Support, bool, error)

	InsertRaid(ctx context.Context, r *raid.Raid) error
	LockRaid(ctx context.Context, id uuid.UUID) (*raid.Raid, error)
	// SetRaidStatus moves the raid from one status to another; a stored
	// status other than from yields ErrConcurrencyConflict.
	SetRaidStatus(ctx context.Context, id uuid.UUID, from, to raid.Status) error
	// ApplyBossDamage decrements boss health by amount, floored at 0, only
	// while health is above 0. It returns health before and after, or
	// ErrConcurrencyConflict if health was already 0.
	ApplyBossDamage(ctx context.Context, raidID uuid.UUID, amount int) (before, after int, err error)

	// FindParticipant returns the participant for (raidID, userID) or an
	// error wrapping raid.ErrNotAParticipant.
	FindParticipant(ctx context.Context, raidID, userID uuid.UUID) (*raid.Participant, error)
	// InsertParticipant inserts p unless (raid, user) already exists, and
	// reports whether a row was inserted.
	InsertParticipant(ctx context.Context, p *raid.Participant) (bool, error)
	InsertContribution(ctx context.Context, c *raid.Contribution) error
	// AddParticipantDamage adds one contribution of damage to the totals.
	AddParticipantDamage(ctx context.Context, participantID uuid.UUID, damage int) error
	ListParticipants(ctx context.Context, raidID uuid.UUID) ([]*raid.Participant, error)
}
