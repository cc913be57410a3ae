// Package memory is an in-process guild.Store. A store-wide mutex serializes
// transactions and each transaction works on a copy of the state that is
// swapped in only on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/quest"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
	"github.com/cory-johannsen/gymguild/internal/guild"
)

type memberKey struct {
	raidID uuid.UUID
	userID uuid.UUID
}

type supportKey struct {
	questID     uuid.UUID
	supporterID uuid.UUID
}

type state struct {
	characters    map[uuid.UUID]*character.Character // keyed by user id
	quests        map[uuid.UUID]*quest.Quest
	supports      map[supportKey]*quest.Support
	raids         map[uuid.UUID]*raid.Raid
	participants  map[uuid.UUID]*raid.Participant
	members       map[memberKey]uuid.UUID
	contributions []*raid.Contribution
	ledger        []*progression.Transaction
}

func newState() *state {
	return &state{
		characters:   make(map[uuid.UUID]*character.Character),
		quests:       make(map[uuid.UUID]*quest.Quest),
		supports:     make(map[supportKey]*quest.Support),
		raids:        make(map[uuid.UUID]*raid.Raid),
		participants: make(map[uuid.UUID]*raid.Participant),
		members:      make(map[memberKey]uuid.UUID),
	}
}

// clone copies every row so a transaction can mutate freely. Append-only
// slices share their element pointers, which are never mutated in place.
func (s *state) clone() *state {
	out := &state{
		characters:    make(map[uuid.UUID]*character.Character, len(s.characters)),
		quests:        make(map[uuid.UUID]*quest.Quest, len(s.quests)),
		supports:      make(map[supportKey]*quest.Support, len(s.supports)),
		raids:         make(map[uuid.UUID]*raid.Raid, len(s.raids)),
		participants:  make(map[uuid.UUID]*raid.Participant, len(s.participants)),
		members:       make(map[memberKey]uuid.UUID, len(s.members)),
		contributions: append([]*raid.Contribution(nil), s.contributions...),
		ledger:        append([]*progression.Transaction(nil), s.ledger...),
	}
	for k, v := range s.characters {
		c := *v
		out.characters[k] = &c
	}
	for k, v := range s.quests {
		q := *v
		out.quests[k] = &q
	}
	for k, v := range s.supports {
		sp := *v
		out.supports[k] = &sp
	}
	for k, v := range s.raids {
		r := *v
		out.raids[k] = &r
	}
	for k, v := range s.participants {
		p := *v
		out.participants[k] = &p
	}
	for k, v := range s.members {
		out.members[k] = v
	}
	return out
}

var _ guild.Store = (*Store)(nil)

// Store is an in-memory guild.Store.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

// WithinTx implements guild.Store. fn sees a private copy of the state,
// which replaces the committed state only if fn returns nil and ctx has not
// been cancelled.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx guild.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction not committed: %w", err)
	}
	s.state = work
	return nil
}

// Character implements guild.Reader.
func (s *Store) Character(_ context.Context, userID uuid.UUID) (*character.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.characters[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", guild.ErrCharacterNotFound, userID)
	}
	cp := *c
	return &cp, nil
}

// Quest implements guild.Reader.
func (s *Store) Quest(_ context.Context, id uuid.UUID) (*quest.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.state.quests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", guild.ErrQuestNotFound, id)
	}
	cp := *q
	return &cp, nil
}

// QuestsByCreator implements guild.Reader.
func (s *Store) QuestsByCreator(_ context.Context, userID uuid.UUID) ([]*quest.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*quest.Quest
	for _, q := range s.state.quests {
		if q.CreatorID == userID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// PublicQuests implements guild.Reader.
func (s *Store) PublicQuests(_ context.Context, viewer uuid.UUID, limit int) ([]*quest.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*quest.Quest
	for _, q := range s.state.quests {
		if q.IsPublic && q.CreatorID != viewer {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QuestSupports implements guild.Reader.
func (s *Store) QuestSupports(_ context.Context, questID uuid.UUID) ([]*quest.Support, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*quest.Support
	for k, sp := range s.state.supports {
		if k.questID == questID {
			cp := *sp
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Raid implements guild.Reader.
func (s *Store) Raid(_ context.Context, id uuid.UUID) (*raid.Raid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.raids[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", guild.ErrRaidNotFound, id)
	}
	cp := *r
	return &cp, nil
}

// OpenRaids implements guild.Reader.
func (s *Store) OpenRaids(_ context.Context) ([]*raid.Raid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*raid.Raid
	for _, r := range s.state.raids {
		if !r.Status.IsTerminal() {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// Participants implements guild.Reader.
func (s *Store) Participants(_ context.Context, raidID uuid.UUID) ([]*raid.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listParticipants(raidID), nil
}

// Contributions implements guild.Reader.
func (s *Store) Contributions(_ context.Context, raidID uuid.UUID) ([]*raid.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*raid.Contribution
	for _, c := range s.state.contributions {
		if c.RaidID == raidID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Leaderboard implements guild.Reader.
func (s *Store) Leaderboard(_ context.Context, limit int) ([]*character.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*character.Character, 0, len(s.state.characters))
	for _, c := range s.state.characters {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transactions implements guild.Reader.
func (s *Store) Transactions(_ context.Context, userID uuid.UUID) ([]*progression.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*progression.Transaction
	for _, t := range s.state.ledger {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SumXP implements guild.Reader.
func (s *Store) SumXP(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, t := range s.state.ledger {
		if t.UserID == userID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (st *state) listParticipants(raidID uuid.UUID) []*raid.Participant {
	var out []*raid.Participant
	for _, p := range st.participants {
		if p.RaidID == raidID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
