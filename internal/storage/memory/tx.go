package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/quest"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
	"github.com/cory-johannsen/gymguild/internal/guild"
)

// tx mutates a private state copy. Row locks are implied by the store mutex.
type tx struct {
	st *state
}

func (t *tx) LockStanding(_ context.Context, userID uuid.UUID) (progression.Standing, error) {
	c, ok := t.st.characters[userID]
	if !ok {
		return progression.Standing{}, fmt.Errorf("%w: user %s", guild.ErrCharacterNotFound, userID)
	}
	return progression.Standing{XP: c.XP, Level: c.Level}, nil
}

func (t *tx) SaveStanding(_ context.Context, userID uuid.UUID, s progression.Standing) error {
	c, ok := t.st.characters[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", guild.ErrCharacterNotFound, userID)
	}
	c.XP = s.XP
	c.Level = s.Level
	return nil
}

func (t *tx) AppendTransaction(_ context.Context, row *progression.Transaction) error {
	if row.Amount <= 0 {
		return fmt.Errorf("%w: got %d", progression.ErrInvalidAmount, row.Amount)
	}
	cp := *row
	t.st.ledger = append(t.st.ledger, &cp)
	return nil
}

func (t *tx) InsertCharacter(_ context.Context, c *character.Character) error {
	if _, exists := t.st.characters[c.UserID]; exists {
		return fmt.Errorf("%w: user %s", guild.ErrCharacterExists, c.UserID)
	}
	cp := *c
	t.st.characters[c.UserID] = &cp
	return nil
}

func (t *tx) LockCharacter(_ context.Context, userID uuid.UUID) (*character.Character, error) {
	c, ok := t.st.characters[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", guild.ErrCharacterNotFound, userID)
	}
	cp := *c
	return &cp, nil
}

func (t *tx) InsertQuest(_ context.Context, q *quest.Quest) error {
	if _, exists := t.st.quests[q.ID]; exists {
		return fmt.Errorf("quest %s already exists", q.ID)
	}
	cp := *q
	t.st.quests[q.ID] = &cp
	return nil
}

func (t *tx) LockQuest(_ context.Context, id uuid.UUID) (*quest.Quest, error) {
	q, ok := t.st.quests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", guild.ErrQuestNotFound, id)
	}
	cp := *q
	return &cp, nil
}

func (t *tx) UpdateQuest(_ context.Context, q *quest.Quest, from quest.Status) error {
	stored, ok := t.st.quests[q.ID]
	if !ok {
		return fmt.Errorf("%w: %s", guild.ErrQuestNotFound, q.ID)
	}
	if stored.Status != from {
		return fmt.Errorf("%w: quest %s is %s, expected %s", guild.ErrConcurrencyConflict, q.ID, stored.Status, from)
	}
	stored.Status = q.Status
	stored.ProofImageURL = q.ProofImageURL
	stored.CompletedAt = q.CompletedAt
	return nil
}

func (t *tx) UpsertSupport(_ context.Context, s *quest.Support) (*quest.Support, bool, error) {
	if _, ok := t.st.quests[s.QuestID]; !ok {
		return nil, false, fmt.Errorf("%w: %s", guild.ErrQuestNotFound, s.QuestID)
	}
	key := supportKey{questID: s.QuestID, supporterID: s.SupporterID}
	if stored, exists := t.st.supports[key]; exists {
		stored.Emoji = s.Emoji
		cp := *stored
		return &cp, false, nil
	}
	cp := *s
	t.st.supports[key] = &cp
	out := *s
	return &out, true, nil
}

func (t *tx) InsertRaid(_ context.Context, r *raid.Raid) error {
	if _, exists := t.st.raids[r.ID]; exists {
		return fmt.Errorf("raid %s already exists", r.ID)
	}
	cp := *r
	t.st.raids[r.ID] = &cp
	return nil
}

func (t *tx) LockRaid(_ context.Context, id uuid.UUID) (*raid.Raid, error) {
	r, ok := t.st.raids[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", guild.ErrRaidNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (t *tx) SetRaidStatus(_ context.Context, id uuid.UUID, from, to raid.Status) error {
	r, ok := t.st.raids[id]
	if !ok {
		return fmt.Errorf("%w: %s", guild.ErrRaidNotFound, id)
	}
	if r.Status != from {
		return fmt.Errorf("%w: raid %s is %s, expected %s", guild.ErrConcurrencyConflict, id, r.Status, from)
	}
	r.Status = to
	return nil
}

func (t *tx) ApplyBossDamage(_ context.Context, raidID uuid.UUID, amount int) (int, int, error) {
	r, ok := t.st.raids[raidID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", guild.ErrRaidNotFound, raidID)
	}
	// Only health is written here; the status moves through SetRaidStatus.
	work := *r
	before, after, _, err := work.ApplyDamage(amount)
	if err != nil {
		if errors.Is(err, raid.ErrRaidNotJoinable) {
			return before, after, fmt.Errorf("%w: %w", guild.ErrConcurrencyConflict, err)
		}
		return before, after, err
	}
	r.BossCurrentHealth = work.BossCurrentHealth
	return before, after, nil
}

func (t *tx) FindParticipant(_ context.Context, raidID, userID uuid.UUID) (*raid.Participant, error) {
	id, ok := t.st.members[memberKey{raidID: raidID, userID: userID}]
	if !ok {
		return nil, fmt.Errorf("%w: user %s in raid %s", raid.ErrNotAParticipant, userID, raidID)
	}
	cp := *t.st.participants[id]
	return &cp, nil
}

func (t *tx) InsertParticipant(_ context.Context, p *raid.Participant) (bool, error) {
	key := memberKey{raidID: p.RaidID, userID: p.UserID}
	if _, exists := t.st.members[key]; exists {
		return false, nil
	}
	if _, ok := t.st.raids[p.RaidID]; !ok {
		return false, fmt.Errorf("%w: %s", guild.ErrRaidNotFound, p.RaidID)
	}
	cp := *p
	t.st.participants[p.ID] = &cp
	t.st.members[key] = p.ID
	return true, nil
}

func (t *tx) InsertContribution(_ context.Context, c *raid.Contribution) error {
	if _, ok := t.st.participants[c.ParticipantID]; !ok {
		return fmt.Errorf("%w: participant %s", raid.ErrNotAParticipant, c.ParticipantID)
	}
	cp := *c
	t.st.contributions = append(t.st.contributions, &cp)
	return nil
}

func (t *tx) AddParticipantDamage(_ context.Context, participantID uuid.UUID, damage int) error {
	p, ok := t.st.participants[participantID]
	if !ok {
		return fmt.Errorf("%w: participant %s", raid.ErrNotAParticipant, participantID)
	}
	p.Record(damage)
	return nil
}

func (t *tx) ListParticipants(_ context.Context, raidID uuid.UUID) ([]*raid.Participant, error) {
	return t.st.listParticipants(raidID), nil
}
