package guild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/gymguild/internal/events"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
)

// sweepConcurrency bounds how many raids one sweep advances in parallel.
const sweepConcurrency = 4

// CreateRaid validates and stores a new raid at full health.
//
// Postcondition: Returns the raid with a clock-derived status, or an error
// wrapping raid.ErrInvalidRaid.
func (s *Service) CreateRaid(ctx context.Context, d raid.Draft) (*raid.Raid, []events.Event, error) {
	r, err := raid.New(d, s.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	evs, err := s.run(ctx, "create_raid", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		if err := tx.InsertRaid(ctx, r); err != nil {
			return err
		}
		*out = append(*out, events.New(events.RaidCreated, r.ID, uuid.Nil, r.CreatedAt, map[string]any{
			"title":     r.Title,
			"boss_name": r.BossName,
			"status":    string(r.Status),
		}))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("raid created",
		zap.Stringer("raid_id", r.ID),
		zap.String("boss", r.BossName),
		zap.Int("health", r.BossMaxHealth),
	)
	return r, evs, nil
}

// JoinResult reports the participant row for a join and whether it was new.
type JoinResult struct {
	Participant *raid.Participant
	Joined      bool
}

// JoinRaid adds userID to the raid. Joining twice returns the existing
// participant unchanged, whatever the raid's status.
//
// Postcondition: New joins require an active raid (raid.ErrRaidNotJoinable)
// and a character (ErrCharacterNotFound). At most one participant exists per
// (raid, user).
func (s *Service) JoinRaid(ctx context.Context, raidID, userID uuid.UUID) (JoinResult, []events.Event, error) {
	var result JoinResult
	evs, err := s.run(ctx, "join_raid", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		r, err := tx.LockRaid(ctx, raidID)
		if err != nil {
			return err
		}
		existing, err := tx.FindParticipant(ctx, raidID, userID)
		switch {
		case err == nil:
			result = JoinResult{Participant: existing}
			return nil
		case !errors.Is(err, raid.ErrNotAParticipant):
			return err
		}

		now := s.clock.Now()
		if err := r.CheckActive(now); err != nil {
			return err
		}
		if _, err := tx.LockCharacter(ctx, userID); err != nil {
			return err
		}
		p := raid.NewParticipant(raidID, userID, now)
		inserted, err := tx.InsertParticipant(ctx, p)
		if err != nil {
			return err
		}
		if !inserted {
			p, err = tx.FindParticipant(ctx, raidID, userID)
			if err != nil {
				return err
			}
			result = JoinResult{Participant: p}
			return nil
		}
		result = JoinResult{Participant: p, Joined: true}
		*out = append(*out, events.New(events.RaidJoined, raidID, userID, now, nil))
		return nil
	})
	if err != nil {
		return JoinResult{}, nil, err
	}
	return result, evs, nil
}

// ContributeRequest describes one logged attack.
type ContributeRequest struct {
	RaidID        uuid.UUID
	UserID        uuid.UUID
	Description   string
	ProofImageURL string
}

// ContributionResult reports the effect of one contribution.
type ContributionResult struct {
	Contribution     *raid.Contribution
	Participant      *raid.Participant
	Damage           int
	BossHealthBefore int
	BossHealthAfter  int
	// Defeated is true only for the contribution that took the boss to 0.
	Defeated bool
	// XP is the contributor's raid_contribution grant; zero when the raid
	// awards no per-contribution XP.
	XP progression.Result
	// VictoryGrants holds the raid_victory grants made when Defeated.
	VictoryGrants []progression.Result
}

// Contribute logs an attack on the raid boss: damage comes from the
// contributor's current attributes, boss health drops (floored at 0), the
// participant totals and the contribution log grow, and the contributor earns
// the raid's per-contribution XP. The contribution that defeats the boss
// completes the raid and grants every participant the completion bonus once.
//
// Postcondition: All effects commit together or not at all. Returns
// raid.ErrInvalidContribution, raid.ErrRaidNotJoinable,
// raid.ErrNotAParticipant or ErrConcurrencyConflict without mutation.
func (s *Service) Contribute(ctx context.Context, req ContributeRequest) (ContributionResult, []events.Event, error) {
	desc, err := raid.NormalizeDescription(req.Description)
	if err != nil {
		return ContributionResult{}, nil, err
	}

	var result ContributionResult
	evs, err := s.run(ctx, "contribute", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		r, err := tx.LockRaid(ctx, req.RaidID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := r.CheckActive(now); err != nil {
			return err
		}
		p, err := tx.FindParticipant(ctx, req.RaidID, req.UserID)
		if err != nil {
			return err
		}
		c, err := tx.LockCharacter(ctx, req.UserID)
		if err != nil {
			return err
		}
		dmg, err := s.damage.Damage(ctx, c.Attributes)
		if err != nil {
			return fmt.Errorf("computing damage: %w", err)
		}
		dmg = raid.FloorDamage(dmg)

		before, after, err := tx.ApplyBossDamage(ctx, r.ID, dmg)
		if err != nil {
			return err
		}
		contribution, err := raid.NewContribution(p, desc, dmg, req.ProofImageURL, now)
		if err != nil {
			return err
		}
		if err := tx.InsertContribution(ctx, contribution); err != nil {
			return err
		}
		if err := tx.AddParticipantDamage(ctx, p.ID, dmg); err != nil {
			return err
		}
		p.Record(dmg)

		result = ContributionResult{
			Contribution:     contribution,
			Participant:      p,
			Damage:           dmg,
			BossHealthBefore: before,
			BossHealthAfter:  after,
		}
		*out = append(*out,
			events.New(events.RaidContribution, r.ID, req.UserID, now, map[string]any{
				"damage":          dmg,
				"contribution_id": contribution.ID.String(),
			}),
			events.New(events.BossHealthChanged, r.ID, req.UserID, now, map[string]any{
				"health_before": before,
				"health":        after,
				"max_health":    r.BossMaxHealth,
			}),
		)

		raidID := r.ID
		if r.XPPerContribution > 0 {
			result.XP, err = s.applyXP(ctx, tx, progression.Grant{
				UserID:      req.UserID,
				Amount:      r.XPPerContribution,
				Source:      progression.SourceRaidContribution,
				SourceID:    &raidID,
				Description: r.Title,
			}, out)
			if err != nil {
				return err
			}
		}

		if raid.DefeatingBlow(before, after) {
			result.Defeated = true
			result.VictoryGrants, err = s.resolveVictory(ctx, tx, r, out)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ContributionResult{}, nil, err
	}
	if result.Defeated {
		s.logger.Info("raid boss defeated",
			zap.Stringer("raid_id", req.RaidID),
			zap.Stringer("final_blow_by", req.UserID),
			zap.Int("participants_rewarded", len(result.VictoryGrants)),
		)
	}
	return result, evs, nil
}

// resolveVictory completes the raid and grants the completion bonus to every
// participant. It runs inside the contribution's transaction so the bonus is
// granted exactly once.
func (s *Service) resolveVictory(ctx context.Context, tx Tx, r *raid.Raid, out *[]events.Event) ([]progression.Result, error) {
	if err := tx.SetRaidStatus(ctx, r.ID, r.Status, raid.StatusCompleted); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	*out = append(*out, events.New(events.RaidStatusChanged, r.ID, uuid.Nil, now, map[string]any{
		"from": string(r.Status),
		"to":   string(raid.StatusCompleted),
	}))
	r.Status = raid.StatusCompleted

	if r.CompletionBonusXP <= 0 {
		return nil, nil
	}
	participants, err := tx.ListParticipants(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	// Characters are locked in user id order so concurrent victories that
	// share participants acquire them in the same sequence.
	slices.SortFunc(participants, func(a, b *raid.Participant) int {
		return bytes.Compare(a.UserID[:], b.UserID[:])
	})
	raidID := r.ID
	grants := make([]progression.Result, 0, len(participants))
	for _, p := range participants {
		res, err := s.applyXP(ctx, tx, progression.Grant{
			UserID:      p.UserID,
			Amount:      r.CompletionBonusXP,
			Source:      progression.SourceRaidVictory,
			SourceID:    &raidID,
			Description: r.Title,
		}, out)
		if err != nil {
			return nil, fmt.Errorf("granting victory bonus to %s: %w", p.UserID, err)
		}
		grants = append(grants, res)
	}
	return grants, nil
}

// StatusChange records one raid transition made by a sweep.
type StatusChange struct {
	RaidID uuid.UUID
	From   raid.Status
	To     raid.Status
}

// SweepRaids advances every non-terminal raid to the status the clock
// implies: upcoming to active when its window opens, and to failed once
// ends_at has passed with the boss alive. Each raid is advanced in its own
// transaction. No XP is granted.
//
// Postcondition: Terminal raids are never modified. Returns the transitions
// made; per-raid failures are joined into the error.
func (s *Service) SweepRaids(ctx context.Context) ([]StatusChange, []events.Event, error) {
	open, err := s.store.OpenRaids(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing open raids: %w", err)
	}

	var (
		mu      sync.Mutex
		changes []StatusChange
		all     []events.Event
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, candidate := range open {
		id := candidate.ID
		g.Go(func() error {
			change, evs, err := s.advanceRaid(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("raid %s: %w", id, err))
				return nil
			}
			if change != nil {
				changes = append(changes, *change)
				all = append(all, evs...)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range changes {
		s.logger.Info("raid status changed",
			zap.Stringer("raid_id", c.RaidID),
			zap.String("from", string(c.From)),
			zap.String("to", string(c.To)),
		)
	}
	return changes, all, errors.Join(errs...)
}

func (s *Service) advanceRaid(ctx context.Context, id uuid.UUID) (*StatusChange, []events.Event, error) {
	var change *StatusChange
	evs, err := s.run(ctx, "sweep_raid", func(ctx context.Context, tx Tx, out *[]events.Event) error {
		r, err := tx.LockRaid(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		prev, changed := r.Advance(now)
		if !changed {
			return nil
		}
		if err := tx.SetRaidStatus(ctx, id, prev, r.Status); err != nil {
			return err
		}
		change = &StatusChange{RaidID: id, From: prev, To: r.Status}
		*out = append(*out, events.New(events.RaidStatusChanged, id, uuid.Nil, now, map[string]any{
			"from": string(prev),
			"to":   string(r.Status),
		}))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return change, evs, nil
}

// RaidStanding is a raid with its participants ranked by damage dealt.
type RaidStanding struct {
	Raid         *raid.Raid
	Status       raid.Status
	Participants []*raid.Participant
}

// Standings returns the raid, its clock-derived status and participants
// ordered by damage dealt.
func (s *Service) Standings(ctx context.Context, raidID uuid.UUID) (RaidStanding, error) {
	r, err := s.store.Raid(ctx, raidID)
	if err != nil {
		return RaidStanding{}, err
	}
	ps, err := s.store.Participants(ctx, raidID)
	if err != nil {
		return RaidStanding{}, fmt.Errorf("loading participants of %s: %w", raidID, err)
	}
	raid.SortByDamage(ps)
	return RaidStanding{Raid: r, Status: r.StatusAt(s.clock.Now()), Participants: ps}, nil
}

// Contributions returns the raid's contribution log, oldest first.
func (s *Service) Contributions(ctx context.Context, raidID uuid.UUID) ([]*raid.Contribution, error) {
	if _, err := s.store.Raid(ctx, raidID); err != nil {
		return nil, err
	}
	return s.store.Contributions(ctx, raidID)
}
