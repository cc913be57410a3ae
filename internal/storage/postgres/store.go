package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/quest"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
	"github.com/cory-johannsen/gymguild/internal/guild"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the queries need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ guild.Store = (*Store)(nil)

// Store is a guild.Store backed by PostgreSQL. Transactions run at READ
// COMMITTED; lock methods take row locks with SELECT ... FOR UPDATE.
type Store struct {
	pool *Pool
}

// NewStore creates a Store on pool.
//
// Precondition: pool must be open and migrated.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// WithinTx implements guild.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx guild.Tx) error) error {
	return s.pool.inTx(ctx, func(ptx pgx.Tx) error {
		return fn(ctx, &tx{q: ptx})
	})
}

// Character implements guild.Reader.
func (s *Store) Character(ctx context.Context, userID uuid.UUID) (*character.Character, error) {
	return getCharacter(ctx, s.pool.DB(), userID, false)
}

// Quest implements guild.Reader.
func (s *Store) Quest(ctx context.Context, id uuid.UUID) (*quest.Quest, error) {
	return getQuest(ctx, s.pool.DB(), id, false)
}

// QuestsByCreator implements guild.Reader.
func (s *Store) QuestsByCreator(ctx context.Context, userID uuid.UUID) ([]*quest.Quest, error) {
	return listQuests(ctx, s.pool.DB(), userID)
}

// PublicQuests implements guild.Reader.
func (s *Store) PublicQuests(ctx context.Context, viewer uuid.UUID, limit int) ([]*quest.Quest, error) {
	return listPublicQuests(ctx, s.pool.DB(), viewer, limit)
}

// QuestSupports implements guild.Reader.
func (s *Store) QuestSupports(ctx context.Context, questID uuid.UUID) ([]*quest.Support, error) {
	return listSupports(ctx, s.pool.DB(), questID)
}

// Raid implements guild.Reader.
func (s *Store) Raid(ctx context.Context, id uuid.UUID) (*raid.Raid, error) {
	return getRaid(ctx, s.pool.DB(), id, false)
}

// OpenRaids implements guild.Reader.
func (s *Store) OpenRaids(ctx context.Context) ([]*raid.Raid, error) {
	return listOpenRaids(ctx, s.pool.DB())
}

// Participants implements guild.Reader.
func (s *Store) Participants(ctx context.Context, raidID uuid.UUID) ([]*raid.Participant, error) {
	return listParticipants(ctx, s.pool.DB(), raidID)
}

// Contributions implements guild.Reader.
func (s *Store) Contributions(ctx context.Context, raidID uuid.UUID) ([]*raid.Contribution, error) {
	return listContributions(ctx, s.pool.DB(), raidID)
}

// Leaderboard implements guild.Reader.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]*character.Character, error) {
	return leaderboard(ctx, s.pool.DB(), limit)
}

// Transactions implements guild.Reader.
func (s *Store) Transactions(ctx context.Context, userID uuid.UUID) ([]*progression.Transaction, error) {
	return listTransactions(ctx, s.pool.DB(), userID)
}

// SumXP implements guild.Reader.
func (s *Store) SumXP(ctx context.Context, userID uuid.UUID) (int, error) {
	var sum int
	err := s.pool.DB().QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM xp_transactions WHERE user_id = $1`, userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("summing xp: %w", err)
	}
	return sum, nil
}

// sqlState extracts the SQLSTATE code of a PostgreSQL error, or "".
func sqlState(err error) string {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState()
	}
	return ""
}

func isDuplicateKeyError(err error) bool { return sqlState(err) == "23505" }

func isForeignKeyError(err error) bool { return sqlState(err) == "23503" }

// classify maps serialization failures and deadlocks to
// guild.ErrConcurrencyConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch sqlState(err) {
	case "40001", "40P01":
		return fmt.Errorf("%w: %v", guild.ErrConcurrencyConflict, err)
	}
	return err
}

// notFound converts pgx.ErrNoRows into sentinel, leaving other errors wrapped
// with what.
func notFound(err error, sentinel error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", sentinel, what)
	}
	return fmt.Errorf("loading %s: %w", what, err)
}
