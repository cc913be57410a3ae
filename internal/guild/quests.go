package guild

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gymguild/internal/events"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/quest"
)

// CreateQuest stores a new active quest for creatorID with its XP reward
// fixed from the quest type and difficulty.
//
// Postcondition: Returns the quest, quest.ErrInvalidQuest, or an error
// wrapping ruleset.ErrInvalidTemplate.
func (s *Service) CreateQuest(ctx context.Context, creatorID uuid.UUID, d quest.Draft) (*quest.Quest, []events.Event, error) {
	q, err := quest.New(s.rules, creatorID, d, s.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	evs, err := s.run(ctx, "create_quest", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		if err := tx.InsertQuest(ctx, q); err != nil {
			return err
		}
		*out = append(*out, events.New(events.QuestCreated, q.ID, creatorID, q.CreatedAt, map[string]any{
			"quest_type": q.QuestType,
			"difficulty": q.Difficulty,
			"xp_reward":  q.XPReward,
		}))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return q, evs, nil
}

// QuestCompletion reports a completed quest and the XP it granted.
type QuestCompletion struct {
	Quest *quest.Quest
	XP    progression.Result
}

// CompleteQuest marks the quest completed on behalf of userID and grants its
// fixed reward through the ledger, atomically.
//
// Postcondition: On success the quest is completed and exactly one
// quest_complete ledger row exists for it. Returns ErrQuestNotFound,
// quest.ErrNotQuestOwner or quest.ErrQuestNotActive without mutation.
func (s *Service) CompleteQuest(ctx context.Context, userID, questID uuid.UUID, proofImageURL string) (QuestCompletion, []events.Event, error) {
	var result QuestCompletion
	evs, err := s.run(ctx, "complete_quest", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		q, err := tx.LockQuest(ctx, questID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := q.Complete(userID, proofImageURL, now); err != nil {
			return err
		}
		if err := tx.UpdateQuest(ctx, q, quest.StatusActive); err != nil {
			return err
		}
		sourceID := q.ID
		res, err := s.applyXP(ctx, tx, progression.Grant{
			UserID:      userID,
			Amount:      q.XPReward,
			Source:      progression.SourceQuestComplete,
			SourceID:    &sourceID,
			Description: q.Title,
		}, out)
		if err != nil {
			return err
		}
		*out = append(*out, events.New(events.QuestCompleted, q.ID, userID, now, map[string]any{
			"xp_reward": q.XPReward,
		}))
		result = QuestCompletion{Quest: q, XP: res}
		return nil
	})
	if err != nil {
		return QuestCompletion{}, nil, err
	}
	s.logger.Debug("quest completed",
		zap.Stringer("quest_id", questID),
		zap.Stringer("user_id", userID),
		zap.Int("xp_reward", result.Quest.XPReward),
	)
	return result, evs, nil
}

// AbandonQuest moves an active quest to abandoned. No XP is involved.
//
// Postcondition: Returns ErrQuestNotFound, quest.ErrNotQuestOwner or
// quest.ErrQuestNotActive without mutation.
func (s *Service) AbandonQuest(ctx context.Context, userID, questID uuid.UUID) (*quest.Quest, []events.Event, error) {
	var abandoned *quest.Quest
	evs, err := s.run(ctx, "abandon_quest", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		q, err := tx.LockQuest(ctx, questID)
		if err != nil {
			return err
		}
		if err := q.Abandon(userID); err != nil {
			return err
		}
		if err := tx.UpdateQuest(ctx, q, quest.StatusActive); err != nil {
			return err
		}
		*out = append(*out, events.New(events.QuestAbandoned, q.ID, userID, s.clock.Now(), nil))
		abandoned = q
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return abandoned, evs, nil
}

// Quests lists the quests created by userID, newest first.
func (s *Service) Quests(ctx context.Context, userID uuid.UUID) ([]*quest.Quest, error) {
	return s.store.QuestsByCreator(ctx, userID)
}

// PublicQuests lists other users' public quests for viewer, newest first.
// limit <= 0 selects DefaultFeedLimit; larger limits are capped at MaxListLimit.
func (s *Service) PublicQuests(ctx context.Context, viewer uuid.UUID, limit int) ([]*quest.Quest, error) {
	qs, err := s.store.PublicQuests(ctx, viewer, clampLimit(limit, DefaultFeedLimit))
	if err != nil {
		return nil, fmt.Errorf("loading public quests: %w", err)
	}
	return qs, nil
}

// SupportResult reports the stored support and whether it was the
// supporter's first reaction to the quest.
type SupportResult struct {
	Support *quest.Support
	Created bool
}

// SupportQuest records supporterID's emoji on a public quest. A supporter has
// at most one support per quest; sending again replaces the emoji.
//
// Postcondition: Returns ErrQuestNotFound, ErrCharacterNotFound,
// quest.ErrQuestNotPublic, quest.ErrSelfSupport, quest.ErrInvalidSupport or
// quest.ErrQuestNotActive without mutation.
func (s *Service) SupportQuest(ctx context.Context, questID, supporterID uuid.UUID, emoji string) (SupportResult, []events.Event, error) {
	var result SupportResult
	evs, err := s.run(ctx, "support_quest", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		q, err := tx.LockQuest(ctx, questID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		sp, err := q.Support(supporterID, emoji, now)
		if err != nil {
			return err
		}
		if _, err := tx.LockCharacter(ctx, supporterID); err != nil {
			return err
		}
		stored, created, err := tx.UpsertSupport(ctx, sp)
		if err != nil {
			return err
		}
		result = SupportResult{Support: stored, Created: created}
		*out = append(*out, events.New(events.QuestSupported, q.ID, supporterID, now, map[string]any{
			"emoji":   stored.Emoji,
			"created": created,
		}))
		return nil
	})
	if err != nil {
		return SupportResult{}, nil, err
	}
	return result, evs, nil
}

// Supports lists the supports a quest has received, oldest first.
func (s *Service) Supports(ctx context.Context, questID uuid.UUID) ([]*quest.Support, error) {
	if _, err := s.store.Quest(ctx, questID); err != nil {
		return nil, err
	}
	return s.store.QuestSupports(ctx, questID)
}
