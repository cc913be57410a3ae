// Package quest models self-reported activities and their completion rules.
package quest

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidQuest is returned when a quest draft fails validation.
	ErrInvalidQuest = errors.New("invalid quest")
	// ErrQuestNotActive is returned when completing or abandoning a quest
	// that has already left the active state.
	ErrQuestNotActive = errors.New("quest is not active")
	// ErrNotQuestOwner is returned when someone other than the creator
	// completes or abandons a quest.
	ErrNotQuestOwner = errors.New("quest belongs to another user")
	// ErrQuestNotPublic is returned when supporting a private quest.
	ErrQuestNotPublic = errors.New("quest is not public")
	// ErrSelfSupport is returned when a quest's creator tries to support it.
	ErrSelfSupport = errors.New("cannot support your own quest")
	// ErrInvalidSupport is returned for an emoji outside SupportEmojis.
	ErrInvalidSupport = errors.New("invalid support emoji")
)

// SupportEmojis is the set of reactions a supporter may send.
var SupportEmojis = []string{"💪", "🔥", "⭐", "👏", "🎯", "💯"}

// Status is the lifecycle state of a quest.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Rewards resolves a quest type and difficulty to a fixed XP reward.
// *ruleset.Ruleset satisfies it.
type Rewards interface {
	Difficulty(id string) (string, float64, error)
	QuestReward(questType, difficulty string) (int, error)
}

// Quest is a user-created activity worth a fixed XP reward.
//
// Invariant: XPReward is fixed at creation; Status only moves from active to
// completed or abandoned.
type Quest struct {
	ID            uuid.UUID
	CreatorID     uuid.UUID
	Title         string
	Description   string
	QuestType     string
	Difficulty    string
	IsPublic      bool
	XPReward      int
	Status        Status
	ProofImageURL string
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// Draft carries the caller-supplied fields of a new quest.
type Draft struct {
	Title       string
	Description string
	QuestType   string
	Difficulty  string
	IsPublic    bool
}

// New validates d, fixes the XP reward from rewards and returns an active quest.
//
// Precondition: rewards must be non-nil.
// Postcondition: Returns a Quest, ErrInvalidQuest for a blank title, or an
// error wrapping ruleset.ErrInvalidTemplate for an unknown type or difficulty.
func New(rewards Rewards, creatorID uuid.UUID, d Draft, now time.Time) (*Quest, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidQuest)
	}
	difficulty, _, err := rewards.Difficulty(d.Difficulty)
	if err != nil {
		return nil, err
	}
	reward, err := rewards.QuestReward(d.QuestType, difficulty)
	if err != nil {
		return nil, err
	}
	return &Quest{
		ID:          uuid.New(),
		CreatorID:   creatorID,
		Title:       title,
		Description: strings.TrimSpace(d.Description),
		QuestType:   d.QuestType,
		Difficulty:  difficulty,
		IsPublic:    d.IsPublic,
		XPReward:    reward,
		Status:      StatusActive,
		CreatedAt:   now,
	}, nil
}

func (q *Quest) checkTransition(by uuid.UUID) error {
	if q.CreatorID != by {
		return fmt.Errorf("%w: quest %s", ErrNotQuestOwner, q.ID)
	}
	if q.Status != StatusActive {
		return fmt.Errorf("%w: quest %s is %s", ErrQuestNotActive, q.ID, q.Status)
	}
	return nil
}

// Complete moves the quest to completed on behalf of by.
//
// Postcondition: On success Status == StatusCompleted and CompletedAt == now.
// Returns ErrNotQuestOwner or ErrQuestNotActive without change otherwise.
func (q *Quest) Complete(by uuid.UUID, proofImageURL string, now time.Time) error {
	if err := q.checkTransition(by); err != nil {
		return err
	}
	q.Status = StatusCompleted
	q.ProofImageURL = proofImageURL
	q.CompletedAt = &now
	return nil
}

// Abandon moves the quest to abandoned on behalf of by.
//
// Postcondition: On success Status == StatusAbandoned; no XP is involved.
func (q *Quest) Abandon(by uuid.UUID) error {
	if err := q.checkTransition(by); err != nil {
		return err
	}
	q.Status = StatusAbandoned
	return nil
}

// Support is one user's emoji reaction to someone else's public quest. There is
// at most one per (QuestID, SupporterID); a second send replaces the emoji.
type Support struct {
	ID          uuid.UUID
	QuestID     uuid.UUID
	SupporterID uuid.UUID
	Emoji       string
	CreatedAt   time.Time
}

// Support validates a reaction from supporter and returns the row to upsert.
//
// Postcondition: Returns ErrInvalidSupport, ErrQuestNotPublic, ErrSelfSupport
// or ErrQuestNotActive when the reaction is not allowed.
func (q *Quest) Support(supporter uuid.UUID, emoji string, now time.Time) (*Support, error) {
	if !slices.Contains(SupportEmojis, emoji) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSupport, emoji)
	}
	if !q.IsPublic {
		return nil, fmt.Errorf("%w: quest %s", ErrQuestNotPublic, q.ID)
	}
	if q.CreatorID == supporter {
		return nil, fmt.Errorf("%w: quest %s", ErrSelfSupport, q.ID)
	}
	if q.Status != StatusActive {
		return nil, fmt.Errorf("%w: quest %s is %s", ErrQuestNotActive, q.ID, q.Status)
	}
	return &Support{
		ID:          uuid.New(),
		QuestID:     q.ID,
		SupporterID: supporter,
		Emoji:       emoji,
		CreatedAt:   now,
	}, nil
}
