// Package guild orchestrates the progression and raid rules against a Store:
// every operation runs in one transaction and returns its change events.
package guild

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gymguild/internal/events"
	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
	"github.com/cory-johannsen/gymguild/internal/game/ruleset"
)

const (
	// DefaultLeaderboardLimit is the number of leaderboard rows returned when
	// the caller asks for none in particular.
	DefaultLeaderboardLimit = 50
	// DefaultFeedLimit is the size of the public quest feed.
	DefaultFeedLimit = 50
	// MaxListLimit caps every caller-supplied list size.
	MaxListLimit = 500
)

// clampLimit maps limit <= 0 to def and caps it at MaxListLimit.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	return min(limit, MaxListLimit)
}

// Service is the guild engine. It is safe for concurrent use; all
// coordination happens in the Store.
type Service struct {
	store            Store
	rules            *ruleset.Ruleset
	ledger           *progression.Ledger
	damage           raid.DamageFormula
	clock            Clock
	logger           *zap.Logger
	publisher        events.Publisher
	leaderboardLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the system clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPublisher hands committed events to p in addition to returning them.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithDamageFormula replaces the ruleset's built-in damage policy.
func WithDamageFormula(f raid.DamageFormula) Option {
	return func(s *Service) { s.damage = f }
}

// WithLeaderboardLimit sets the default leaderboard size.
func WithLeaderboardLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.leaderboardLimit = min(n, MaxListLimit)
		}
	}
}

// New creates a Service over store using rules.
//
// Precondition: store and rules must be non-nil.
// Postcondition: Returns a ready Service with a system clock, nop logger and
// nop publisher unless overridden.
func New(store Store, rules *ruleset.Ruleset, opts ...Option) *Service {
	if store == nil || rules == nil {
		panic("guild.New: precondition violated: store and rules must be non-nil")
	}
	dmg := rules.Damage()
	s := &Service{
		store:            store,
		rules:            rules,
		damage:           raid.DamagePolicy{BaseDamage: dmg.BaseDamage, StatDivisor: dmg.StatDivisor},
		clock:            SystemClock{},
		logger:           zap.NewNop(),
		publisher:        events.Nop{},
		leaderboardLimit: DefaultLeaderboardLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = progression.NewLedger(rules.Curve(), s.clock.Now)
	return s
}

// Rules returns the ruleset the service runs against.
func (s *Service) Rules() *ruleset.Ruleset {
	return s.rules
}

// run executes fn in one store transaction and publishes the events it
// collected once the transaction has committed.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, tx Tx, out *[]events.Event) error) ([]events.Event, error) {
	var evs []events.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		evs = evs[:0]
		return fn(ctx, tx, &evs)
	})
	if err != nil {
		s.logger.Debug("operation rolled back", zap.String("op", op), zap.Error(err))
		return nil, err
	}
	if len(evs) > 0 {
		if perr := s.publisher.Publish(ctx, evs...); perr != nil {
			s.logger.Warn("publishing events failed",
				zap.String("op", op),
				zap.Int("events", len(evs)),
				zap.Error(perr),
			)
		}
	}
	return evs, nil
}

// applyXP runs one ledger grant and appends its events.
func (s *Service) applyXP(ctx context.Context, tx Tx, g progression.Grant, out *[]events.Event) (progression.Result, error) {
	res, err := s.ledger.Apply(ctx, tx, g)
	if err != nil {
		return progression.Result{}, err
	}
	at := res.Transaction.CreatedAt
	subject := g.UserID
	if g.SourceID != nil {
		subject = *g.SourceID
	}
	*out = append(*out, events.New(events.XPGranted, subject, g.UserID, at, map[string]any{
		"amount": g.Amount,
		"source": string(g.Source),
		"xp":     res.NewXP,
		"level":  res.NewLevel,
	}))
	s.logger.Debug("xp granted",
		zap.Stringer("user_id", g.UserID),
		zap.String("source", string(g.Source)),
		zap.Int("amount", g.Amount),
		zap.Int("xp", res.NewXP),
	)
	if res.LeveledUp {
		title := s.rules.Curve().TitleForLevel(res.NewLevel)
		*out = append(*out, events.New(events.LeveledUp, g.UserID, g.UserID, at, map[string]any{
			"previous_level": res.PreviousLevel,
			"level":          res.NewLevel,
			"title":          title,
		}))
		s.logger.Info("character leveled up",
			zap.Stringer("user_id", g.UserID),
			zap.Int("from", res.PreviousLevel),
			zap.Int("to", res.NewLevel),
			zap.String("title", title),
		)
	}
	return res, nil
}

// CreateCharacter builds and stores the user's one character.
//
// Postcondition: Returns the level-1 character, or ErrCharacterExists,
// character.ErrInvalidName, or an error wrapping ruleset.ErrInvalidTemplate.
func (s *Service) CreateCharacter(ctx context.Context, userID uuid.UUID, name, raceID, classID string) (*character.Character, []events.Event, error) {
	c, err := character.Build(s.rules, userID, name, raceID, classID, s.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	evs, err := s.run(ctx, "create_character", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		if err := tx.InsertCharacter(ctx, c); err != nil {
			return err
		}
		*out = append(*out, events.New(events.CharacterCreated, c.ID, userID, c.CreatedAt, map[string]any{
			"name":  c.Name,
			"race":  c.Race,
			"class": c.Class,
		}))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("character created",
		zap.Stringer("user_id", userID),
		zap.String("race", raceID),
		zap.String("class", classID),
	)
	return c, evs, nil
}

// Profile is a character together with its position on the level curve.
type Profile struct {
	Character *character.Character
	Progress  progression.Progress
}

// Profile returns the user's character and level progress.
//
// Postcondition: Returns ErrCharacterNotFound if the user has no character.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (Profile, error) {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Character: c, Progress: s.rules.Curve().Progress(c.XP)}, nil
}

// GrantXP applies an arbitrary ledger grant, typically an admin adjustment.
// An empty source defaults to progression.SourceAdjustment.
//
// Postcondition: Returns the ledger result or progression.ErrInvalidAmount /
// ErrCharacterNotFound without mutation.
func (s *Service) GrantXP(ctx context.Context, g progression.Grant) (progression.Result, []events.Event, error) {
	if g.Source == "" {
		g.Source = progression.SourceAdjustment
	}
	var res progression.Result
	evs, err := s.run(ctx, "grant_xp", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		var err error
		res, err = s.applyXP(ctx, tx, g, out)
		return err
	})
	if err != nil {
		return progression.Result{}, nil, err
	}
	return res, evs, nil
}

// History returns the user's XP ledger rows, oldest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]*progression.Transaction, error) {
	return s.store.Transactions(ctx, userID)
}

// LeaderboardEntry is one ranked leaderboard row.
type LeaderboardEntry struct {
	Rank      int
	Character *character.Character
	Title     string
}

// Leaderboard returns the top characters by XP. limit <= 0 selects the
// configured default; larger limits are capped at MaxListLimit.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	chars, err := s.store.Leaderboard(ctx, clampLimit(limit, s.leaderboardLimit))
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	out := make([]LeaderboardEntry, len(chars))
	for i, c := range chars {
		out[i] = LeaderboardEntry{
			Rank:      i + 1,
			Character: c,
			Title:     s.rules.Curve().TitleForLevel(c.Level),
		}
	}
	return out, nil
}

// AuditReport compares a character's cached XP with its ledger.
type AuditReport struct {
	UserID        uuid.UUID
	CachedXP      int
	LedgerXP      int
	CachedLevel   int
	ExpectedLevel int
}

// Consistent reports whether the cached projection matches the ledger.
func (a AuditReport) Consistent() bool {
	return a.CachedXP == a.LedgerXP && a.CachedLevel == a.ExpectedLevel
}

// Audit checks that Character.xp equals the sum of the user's ledger rows
// and that the cached level matches the curve.
func (s *Service) Audit(ctx context.Context, userID uuid.UUID) (AuditReport, error) {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return AuditReport{}, err
	}
	sum, err := s.store.SumXP(ctx, userID)
	if err != nil {
		return AuditReport{}, fmt.Errorf("summing ledger for %s: %w", userID, err)
	}
	report := AuditReport{
		UserID:        userID,
		CachedXP:      c.XP,
		LedgerXP:      sum,
		CachedLevel:   c.Level,
		ExpectedLevel: s.rules.Curve().LevelForXP(sum),
	}
	if !report.Consistent() {
		s.logger.Error("xp ledger mismatch",
			zap.Stringer("user_id", userID),
			zap.Int("cached_xp", report.CachedXP),
			zap.Int("ledger_xp", report.LedgerXP),
		)
	}
	return report, nil
}
