// Package events defines the change notifications the guild service emits
// after each committed operation, and the Publisher hosts use to broadcast them.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names an event type.
type Kind string

const (
	CharacterCreated  Kind = "character_created"
	XPGranted         Kind = "xp_granted"
	LeveledUp         Kind = "leveled_up"
	QuestCreated      Kind = "quest_created"
	QuestCompleted    Kind = "quest_completed"
	QuestAbandoned    Kind = "quest_abandoned"
	QuestSupported    Kind = "quest_supported"
	RaidCreated       Kind = "raid_created"
	RaidJoined        Kind = "raid_joined"
	RaidContribution  Kind = "raid_contribution"
	BossHealthChanged Kind = "boss_health_changed"
	RaidStatusChanged Kind = "raid_status_changed"
)

// Event is one change notification. Subject is the id of the entity the event
// is about; UserID is the acting or affected user when there is one.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Kind       Kind           `json:"kind"`
	Subject    uuid.UUID      `json:"subject"`
	UserID     uuid.UUID      `json:"user_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// New returns an event with a fresh id.
func New(kind Kind, subject, userID uuid.UUID, at time.Time, data map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		Subject:    subject,
		UserID:     userID,
		Data:       data,
		OccurredAt: at,
	}
}

// Publisher broadcasts committed events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ...Event) error { return nil }

// Recorder keeps every published event in memory.
type Recorder struct {
	mu  sync.Mutex
	evs []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, evs...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.evs))
	copy(out, r.evs)
	return out
}

// OfKind returns the recorded events of kind k in publish order.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.evs {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Filter returns the events in evs of kind k.
func Filter(evs []Event, k Kind) []Event {
	var out []Event
	for _, e := range evs {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
