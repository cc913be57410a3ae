package guild_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/gymguild/internal/events"
	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/quest"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
	"github.com/cory-johannsen/gymguild/internal/game/ruleset"
	"github.com/cory-johannsen/gymguild/internal/guild"
	"github.com/cory-johannsen/gymguild/internal/storage/memory"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type formulaFunc func(ctx context.Context, a character.Attributes) (int, error)

func (f formulaFunc) Damage(ctx context.Context, a character.Attributes) (int, error) { return f(ctx, a) }

type fixture struct {
	svc   *guild.Service
	store *memory.Store
	clock *fakeClock
	rec   *events.Recorder
	rules *ruleset.Ruleset
}

func newFixture(t testing.TB, opts ...guild.Option) *fixture {
	t.Helper()
	rules, err := ruleset.Default()
	require.NoError(t, err)
	f := &fixture{
		store: memory.New(),
		clock: &fakeClock{now: epoch},
		rec:   &events.Recorder{},
		rules: rules,
	}
	all := append([]guild.Option{
		guild.WithClock(f.clock),
		guild.WithPublisher(f.rec),
		guild.WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	f.svc = guild.New(f.store, rules, all...)
	return f
}

// newHero creates a human warrior: strength 14, constitution 12.
func (f *fixture) newHero(t testing.TB, name string) uuid.UUID {
	t.Helper()
	user := uuid.New()
	c, _, err := f.svc.CreateCharacter(context.Background(), user, name, "human", "warrior")
	require.NoError(t, err)
	require.Equal(t, 14, c.Attributes.Strength)
	require.Equal(t, 12, c.Attributes.Constitution)
	return user
}

func (f *fixture) newRaid(t testing.TB, health, perHit, bonus int) *raid.Raid {
	t.Helper()
	r, _, err := f.svc.CreateRaid(context.Background(), raid.Draft{
		Title:             "Iron Week",
		BossName:          "The Plateau",
		BossMaxHealth:     health,
		XPPerContribution: perHit,
		CompletionBonusXP: bonus,
		StartsAt:          epoch.Add(-time.Hour),
		EndsAt:            epoch.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, raid.StatusActive, r.Status)
	return r
}

func TestCreateCharacter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	c, evs, err := f.svc.CreateCharacter(ctx, user, "Ana", "elf", "mage")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Level)
	assert.Len(t, events.Filter(evs, events.CharacterCreated), 1)

	_, _, err = f.svc.CreateCharacter(ctx, user, "Ana Again", "orc", "rogue")
	assert.ErrorIs(t, err, guild.ErrCharacterExists)

	_, _, err = f.svc.CreateCharacter(ctx, uuid.New(), "Bob", "gnome", "mage")
	assert.ErrorIs(t, err, ruleset.ErrInvalidTemplate)

	_, _, err = f.svc.CreateCharacter(ctx, uuid.New(), "", "elf", "mage")
	assert.ErrorIs(t, err, character.ErrInvalidName)
}

func TestGrantXP_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newHero(t, "Ana")

	res, evs, err := f.svc.GrantXP(ctx, progression.Grant{UserID: user, Amount: 250})
	require.NoError(t, err)
	assert.Equal(t, 250, res.NewXP)
	assert.Equal(t, 2, res.NewLevel)
	assert.True(t, res.LeveledUp)
	assert.Len(t, events.Filter(evs, events.LeveledUp), 1)

	p, err := f.svc.Profile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 250, p.Character.XP)
	assert.Equal(t, f.rules.Curve().LevelForXP(250), p.Character.Level)
	assert.Equal(t, "Aprendiz", p.Progress.Title)

	history, err := f.svc.History(ctx, user)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 250, history[0].Amount)
	assert.Equal(t, progression.SourceAdjustment, history[0].Source)
}

func TestGrantXP_RejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	user := f.newHero(t, "Ana")
	for _, amount := range []int{0, -10} {
		_, _, err := f.svc.GrantXP(context.Background(), progression.Grant{UserID: user, Amount: amount})
		assert.ErrorIs(t, err, progression.ErrInvalidAmount)
	}
	history, err := f.svc.History(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGrantXP_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.GrantXP(context.Background(), progression.Grant{UserID: uuid.New(), Amount: 5})
	assert.ErrorIs(t, err, guild.ErrCharacterNotFound)
}

func TestGrantXP_RejectsUnknownSource(t *testing.T) {
	f := newFixture(t)
	user := f.newHero(t, "Ana")
	_, _, err := f.svc.GrantXP(context.Background(), progression.Grant{UserID: user, Amount: 10, Source: "gift"})
	assert.ErrorIs(t, err, progression.ErrInvalidSource)

	history, err := f.svc.History(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestQuest_StrengthScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newHero(t, "Ana")

	q, _, err := f.svc.CreateQuest(ctx, user, quest.Draft{Title: "Deadlifts", QuestType: "strength"})
	require.NoError(t, err)
	assert.Equal(t, 60, q.XPReward)

	done, evs, err := f.svc.CompleteQuest(ctx, user, q.ID, "https://img/proof.jpg")
	require.NoError(t, err)
	assert.Equal(t, quest.StatusCompleted, done.Quest.Status)
	assert.Equal(t, 60, done.XP.NewXP)
	assert.Equal(t, 1, done.XP.NewLevel)
	assert.Len(t, events.Filter(evs, events.QuestCompleted), 1)

	_, _, err = f.svc.CompleteQuest(ctx, user, q.ID, "")
	assert.ErrorIs(t, err, quest.ErrQuestNotActive)

	history, err := f.svc.History(ctx, user)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, progression.SourceQuestComplete, history[0].Source)
	require.NotNil(t, history[0].SourceID)
	assert.Equal(t, q.ID, *history[0].SourceID)

	stored, err := f.store.Quest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/proof.jpg", stored.ProofImageURL)
	require.NotNil(t, stored.CompletedAt)
}

func TestQuest_OwnershipAndAbandon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.newHero(t, "Ana")
	other := f.newHero(t, "Bea")

	q, _, err := f.svc.CreateQuest(ctx, owner, quest.Draft{Title: "Trail", QuestType: "outdoor", Difficulty: "hard"})
	require.NoError(t, err)
	assert.Equal(t, 68, q.XPReward)

	_, _, err = f.svc.CompleteQuest(ctx, other, q.ID, "")
	assert.ErrorIs(t, err, quest.ErrNotQuestOwner)
	_, _, err = f.svc.AbandonQuest(ctx, other, q.ID)
	assert.ErrorIs(t, err, quest.ErrNotQuestOwner)

	abandoned, _, err := f.svc.AbandonQuest(ctx, owner, q.ID)
	require.NoError(t, err)
	assert.Equal(t, quest.StatusAbandoned, abandoned.Status)

	_, _, err = f.svc.CompleteQuest(ctx, owner, q.ID, "")
	assert.ErrorIs(t, err, quest.ErrQuestNotActive)

	p, err := f.svc.Profile(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, p.Character.XP)

	_, _, err = f.svc.CompleteQuest(ctx, owner, uuid.New(), "")
	assert.ErrorIs(t, err, guild.ErrQuestNotFound)

	quests, err := f.svc.Quests(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, quests, 1)
}

func TestPublicQuests_Feed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := f.newHero(t, "Ana")
	other := f.newHero(t, "Bea")

	mine, _, err := f.svc.CreateQuest(ctx, viewer, quest.Draft{Title: "Mine", QuestType: "cardio", IsPublic: true})
	require.NoError(t, err)
	_, _, err = f.svc.CreateQuest(ctx, other, quest.Draft{Title: "Hidden", QuestType: "cardio"})
	require.NoError(t, err)
	older, _, err := f.svc.CreateQuest(ctx, other, quest.Draft{Title: "Older", QuestType: "strength", IsPublic: true})
	require.NoError(t, err)
	f.clock.Set(epoch.Add(time.Minute))
	newer, _, err := f.svc.CreateQuest(ctx, other, quest.Draft{Title: "Newer", QuestType: "outdoor", IsPublic: true})
	require.NoError(t, err)

	feed, err := f.svc.PublicQuests(ctx, viewer, 0)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, newer.ID, feed[0].ID)
	assert.Equal(t, older.ID, feed[1].ID)

	feed, err = f.svc.PublicQuests(ctx, viewer, 1)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, newer.ID, feed[0].ID)

	feed, err = f.svc.PublicQuests(ctx, other, 0)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, mine.ID, feed[0].ID)
}

func TestSupportQuest_UpsertsOnePerSupporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.newHero(t, "Ana")
	fan := f.newHero(t, "Bea")
	q, _, err := f.svc.CreateQuest(ctx, owner, quest.Draft{Title: "Marathon", QuestType: "cardio", IsPublic: true})
	require.NoError(t, err)

	first, evs, err := f.svc.SupportQuest(ctx, q.ID, fan, "💪")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Len(t, events.Filter(evs, events.QuestSupported), 1)

	second, _, err := f.svc.SupportQuest(ctx, q.ID, fan, "🔥")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Support.ID, second.Support.ID)
	assert.Equal(t, "🔥", second.Support.Emoji)

	supports, err := f.svc.Supports(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, supports, 1)
	assert.Equal(t, fan, supports[0].SupporterID)
	assert.Equal(t, "🔥", supports[0].Emoji)
}

func TestSupportQuest_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.newHero(t, "Ana")
	fan := f.newHero(t, "Bea")
	public, _, err := f.svc.CreateQuest(ctx, owner, quest.Draft{Title: "Marathon", QuestType: "cardio", IsPublic: true})
	require.NoError(t, err)
	private, _, err := f.svc.CreateQuest(ctx, owner, quest.Draft{Title: "Diary", QuestType: "flexibility"})
	require.NoError(t, err)

	_, _, err = f.svc.SupportQuest(ctx, public.ID, owner, "💪")
	assert.ErrorIs(t, err, quest.ErrSelfSupport)

	_, _, err = f.svc.SupportQuest(ctx, private.ID, fan, "💪")
	assert.ErrorIs(t, err, quest.ErrQuestNotPublic)

	_, _, err = f.svc.SupportQuest(ctx, public.ID, fan, "🍕")
	assert.ErrorIs(t, err, quest.ErrInvalidSupport)

	_, _, err = f.svc.SupportQuest(ctx, public.ID, uuid.New(), "💪")
	assert.ErrorIs(t, err, guild.ErrCharacterNotFound)

	_, _, err = f.svc.SupportQuest(ctx, uuid.New(), fan, "💪")
	assert.ErrorIs(t, err, guild.ErrQuestNotFound)

	for _, id := range []uuid.UUID{public.ID, private.ID} {
		supports, err := f.svc.Supports(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, supports)
	}
	assert.Empty(t, f.rec.OfKind(events.QuestSupported))
}

func TestContribute_DamageScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newHero(t, "Ana")
	r := f.newRaid(t, 100, 10, 50)

	joined, _, err := f.svc.JoinRaid(ctx, r.ID, user)
	require.NoError(t, err)
	assert.True(t, joined.Joined)

	res, evs, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: "  squats  "})
	require.NoError(t, err)
	assert.Equal(t, 23, res.Damage)
	assert.Equal(t, 100, res.BossHealthBefore)
	assert.Equal(t, 77, res.BossHealthAfter)
	assert.False(t, res.Defeated)
	assert.Equal(t, "squats", res.Contribution.Description)
	assert.Equal(t, 10, res.XP.NewXP)
	assert.Len(t, events.Filter(evs, events.BossHealthChanged), 1)

	standing, err := f.svc.Standings(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 77, standing.Raid.BossCurrentHealth)
	require.Len(t, standing.Participants, 1)
	assert.Equal(t, 23, standing.Participants[0].DamageDealt)
	assert.Equal(t, 1, standing.Participants[0].ContributionCount)

	log, err := f.svc.Contributions(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, 23, log[0].DamageAmount)
}

func TestContribute_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newHero(t, "Ana")
	r := f.newRaid(t, 100, 10, 50)

	_, _, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: "run"})
	assert.ErrorIs(t, err, raid.ErrNotAParticipant)

	_, _, err = f.svc.JoinRaid(ctx, r.ID, user)
	require.NoError(t, err)

	_, _, err = f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: " \n\t"})
	assert.ErrorIs(t, err, raid.ErrInvalidContribution)

	_, _, err = f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: uuid.New(), UserID: user, Description: "run"})
	assert.ErrorIs(t, err, guild.ErrRaidNotFound)

	f.clock.Set(r.EndsAt)
	_, _, err = f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: "run"})
	assert.ErrorIs(t, err, raid.ErrRaidNotJoinable)

	stored, err := f.store.Raid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.BossCurrentHealth)
	log, err := f.svc.Contributions(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, log)
	p, err := f.svc.Profile(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, p.Character.XP)
}

func TestJoinRaid_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newHero(t, "Ana")
	r := f.newRaid(t, 100, 10, 50)

	first, evs, err := f.svc.JoinRaid(ctx, r.ID, user)
	require.NoError(t, err)
	assert.True(t, first.Joined)
	assert.Len(t, events.Filter(evs, events.RaidJoined), 1)

	second, evs, err := f.svc.JoinRaid(ctx, r.ID, user)
	require.NoError(t, err)
	assert.False(t, second.Joined)
	assert.Empty(t, evs)
	assert.Equal(t, first.Participant.ID, second.Participant.ID)

	ps, err := f.store.Participants(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, ps, 1)

	// An existing participant is returned even once the raid is over.
	f.clock.Set(r.EndsAt.Add(time.Hour))
	third, _, err := f.svc.JoinRaid(ctx, r.ID, user)
	require.NoError(t, err)
	assert.Equal(t, first.Participant.ID, third.Participant.ID)
}

func TestJoinRaid_RequiresActiveRaidAndCharacter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newHero(t, "Ana")

	upcoming, _, err := f.svc.CreateRaid(ctx, raid.Draft{
		Title: "Later", BossName: "Sloth", BossMaxHealth: 10,
		StartsAt: epoch.Add(time.Hour), EndsAt: epoch.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, raid.StatusUpcoming, upcoming.Status)

	_, _, err = f.svc.JoinRaid(ctx, upcoming.ID, user)
	assert.ErrorIs(t, err, raid.ErrRaidNotJoinable)

	active := f.newRaid(t, 10, 0, 0)
	_, _, err = f.svc.JoinRaid(ctx, active.ID, uuid.New())
	assert.ErrorIs(t, err, guild.ErrCharacterNotFound)

	_, _, err = f.svc.JoinRaid(ctx, uuid.New(), user)
	assert.ErrorIs(t, err, guild.ErrRaidNotFound)
}

func TestContribute_VictoryBonusExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := f.newHero(t, "Ana")
	bea := f.newHero(t, "Bea")
	r := f.newRaid(t, 30, 10, 50)

	for _, u := range []uuid.UUID{ana, bea} {
		_, _, err := f.svc.JoinRaid(ctx, r.ID, u)
		require.NoError(t, err)
	}

	first, _, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: ana, Description: "bench"})
	require.NoError(t, err)
	assert.Equal(t, 7, first.BossHealthAfter)
	assert.False(t, first.Defeated)

	final, evs, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: bea, Description: "rows"})
	require.NoError(t, err)
	assert.True(t, final.Defeated)
	assert.Zero(t, final.BossHealthAfter)
	assert.Equal(t, 23, final.Damage, "damage is not truncated to the remaining health")
	assert.Len(t, final.VictoryGrants, 2)
	assert.Len(t, events.Filter(evs, events.RaidStatusChanged), 1)

	standing, err := f.svc.Standings(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, raid.StatusCompleted, standing.Raid.Status)

	_, _, err = f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: ana, Description: "more"})
	assert.ErrorIs(t, err, raid.ErrRaidNotJoinable)

	for _, u := range []uuid.UUID{ana, bea} {
		history, err := f.svc.History(ctx, u)
		require.NoError(t, err)
		victories := 0
		for _, row := range history {
			if row.Source == progression.SourceRaidVictory {
				victories++
				assert.Equal(t, 50, row.Amount)
			}
		}
		assert.Equal(t, 1, victories)

		p, err := f.svc.Profile(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, 60, p.Character.XP)
	}

	// A completed raid is never reopened by a sweep.
	f.clock.Set(r.EndsAt.Add(time.Hour))
	changes, _, err := f.svc.SweepRaids(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestContribute_VictoryGrantsInUserOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newRaid(t, 20, 0, 15)
	var users []uuid.UUID
	for _, name := range []string{"Ana", "Bea", "Cid", "Dee", "Eli"} {
		u := f.newHero(t, name)
		_, _, err := f.svc.JoinRaid(ctx, r.ID, u)
		require.NoError(t, err)
		users = append(users, u)
	}

	res, _, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: users[2], Description: "deadlift"})
	require.NoError(t, err)
	require.True(t, res.Defeated)
	require.Len(t, res.VictoryGrants, len(users))
	assert.True(t, slices.IsSortedFunc(res.VictoryGrants, func(a, b progression.Result) int {
		return bytes.Compare(a.UserID[:], b.UserID[:])
	}))
}

func TestContribute_ZeroRewardsSkipLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newHero(t, "Ana")
	r := f.newRaid(t, 5, 0, 0)
	_, _, err := f.svc.JoinRaid(ctx, r.ID, user)
	require.NoError(t, err)

	res, _, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: "sprint"})
	require.NoError(t, err)
	assert.True(t, res.Defeated)
	assert.Empty(t, res.VictoryGrants)

	history, err := f.svc.History(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestContribute_ConcurrentFloorAndSingleVictory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newRaid(t, 500, 5, 40)

	const players = 8
	users := make([]uuid.UUID, players)
	for i := range users {
		users[i] = f.newHero(t, "Player")
		_, _, err := f.svc.JoinRaid(ctx, r.ID, users[i])
		require.NoError(t, err)
	}

	var (
		mu       sync.Mutex
		defeats  int
		accepted int
		wg       sync.WaitGroup
	)
	for _, u := range users {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(u uuid.UUID) {
				defer wg.Done()
				res, _, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: u, Description: "burpees"})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					assert.ErrorIs(t, err, raid.ErrRaidNotJoinable)
					return
				}
				accepted++
				if res.Defeated {
					defeats++
				}
			}(u)
		}
	}
	wg.Wait()

	// 40 hits of 23 exceed 500, so the boss falls after 22 hits.
	assert.Equal(t, 1, defeats)
	assert.Equal(t, 22, accepted)

	stored, err := f.store.Raid(ctx, r.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.BossCurrentHealth)
	assert.Equal(t, raid.StatusCompleted, stored.Status)

	log, err := f.svc.Contributions(ctx, r.ID)
	require.NoError(t, err)
	ps, err := f.store.Participants(ctx, r.ID)
	require.NoError(t, err)
	logSum, participantSum, count := 0, 0, 0
	for _, c := range log {
		logSum += c.DamageAmount
	}
	for _, p := range ps {
		participantSum += p.DamageDealt
		count += p.ContributionCount
	}
	assert.Equal(t, logSum, participantSum)
	assert.Equal(t, accepted, count)
	assert.Equal(t, accepted, len(log))

	victoryRows := 0
	for _, u := range users {
		history, err := f.svc.History(ctx, u)
		require.NoError(t, err)
		for _, row := range history {
			if row.Source == progression.SourceRaidVictory {
				victoryRows++
			}
		}
		audit, err := f.svc.Audit(ctx, u)
		require.NoError(t, err)
		assert.True(t, audit.Consistent(), "audit for %s: %+v", u, audit)
	}
	assert.Equal(t, players, victoryRows)
}

func TestContribute_FailedFormulaLeavesNoTrace(t *testing.T) {
	boom := errors.New("formula exploded")
	f := newFixture(t, guild.WithDamageFormula(formulaFunc(func(context.Context, character.Attributes) (int, error) {
		return 0, boom
	})))
	ctx := context.Background()
	user := f.newHero(t, "Ana")
	r := f.newRaid(t, 100, 10, 0)
	_, _, err := f.svc.JoinRaid(ctx, r.ID, user)
	require.NoError(t, err)

	_, _, err = f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: "run"})
	assert.ErrorIs(t, err, boom)

	stored, err := f.store.Raid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.BossCurrentHealth)
}

func TestContribute_CancelledMidOperationRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, guild.WithDamageFormula(formulaFunc(func(context.Context, character.Attributes) (int, error) {
		cancel()
		return 40, nil
	})))
	user := f.newHero(t, "Ana")
	r := f.newRaid(t, 100, 10, 0)
	_, _, err := f.svc.JoinRaid(context.Background(), r.ID, user)
	require.NoError(t, err)

	_, _, err = f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: "run"})
	assert.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	stored, err := f.store.Raid(bg, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.BossCurrentHealth)
	log, err := f.svc.Contributions(bg, r.ID)
	require.NoError(t, err)
	assert.Empty(t, log)
	ps, err := f.store.Participants(bg, r.ID)
	require.NoError(t, err)
	assert.Zero(t, ps[0].DamageDealt)
	assert.Empty(t, f.rec.OfKind(events.RaidContribution))
}

func TestContribute_FormulaResultFloored(t *testing.T) {
	f := newFixture(t, guild.WithDamageFormula(formulaFunc(func(context.Context, character.Attributes) (int, error) {
		return -3, nil
	})))
	ctx := context.Background()
	user := f.newHero(t, "Ana")
	r := f.newRaid(t, 100, 0, 0)
	_, _, err := f.svc.JoinRaid(ctx, r.ID, user)
	require.NoError(t, err)
	res, _, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: "walk"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Damage)
	assert.Equal(t, 99, res.BossHealthAfter)
}

func TestSweepRaids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	upcoming, _, err := f.svc.CreateRaid(ctx, raid.Draft{
		Title: "Soon", BossName: "Couch", BossMaxHealth: 50,
		StartsAt: epoch.Add(time.Hour), EndsAt: epoch.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	active := f.newRaid(t, 50, 0, 0)

	f.clock.Set(epoch.Add(2 * time.Hour))
	changes, evs, err := f.svc.SweepRaids(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, guild.StatusChange{RaidID: upcoming.ID, From: raid.StatusUpcoming, To: raid.StatusActive}, changes[0])
	assert.Len(t, evs, 1)

	f.clock.Set(active.EndsAt.Add(time.Minute))
	changes, _, err = f.svc.SweepRaids(ctx)
	require.NoError(t, err)
	assert.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, raid.StatusFailed, c.To)
	}

	changes, _, err = f.svc.SweepRaids(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	open, err := f.store.OpenRaids(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestLeaderboard_RanksAndTitles(t *testing.T) {
	f := newFixture(t, guild.WithLeaderboardLimit(2))
	ctx := context.Background()
	a := f.newHero(t, "Ana")
	b := f.newHero(t, "Bea")
	c := f.newHero(t, "Cid")
	for user, xp := range map[uuid.UUID]int{a: 50, b: 1200, c: 300} {
		_, _, err := f.svc.GrantXP(ctx, progression.Grant{UserID: user, Amount: xp})
		require.NoError(t, err)
	}

	top, err := f.svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, b, top[0].Character.UserID)
	assert.Equal(t, "Veterano", top[0].Title)
	assert.Equal(t, c, top[1].Character.UserID)
	assert.Equal(t, "Iniciado", top[1].Title)

	all, err := f.svc.Leaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, a, all[2].Character.UserID)
}

// limitStore records the limit the service passes to Leaderboard.
type limitStore struct {
	guild.Store
	limit int
}

func (s *limitStore) Leaderboard(ctx context.Context, limit int) ([]*character.Character, error) {
	s.limit = limit
	return s.Store.Leaderboard(ctx, limit)
}

func TestLeaderboard_LimitCapped(t *testing.T) {
	rules, err := ruleset.Default()
	require.NoError(t, err)
	store := &limitStore{Store: memory.New()}
	svc := guild.New(store, rules, guild.WithLogger(zaptest.NewLogger(t)))

	_, err = svc.Leaderboard(context.Background(), math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, guild.MaxListLimit, store.limit)

	_, err = svc.Leaderboard(context.Background(), -3)
	require.NoError(t, err)
	assert.Equal(t, guild.DefaultLeaderboardLimit, store.limit)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, ...events.Event) error {
	return errors.New("bus down")
}

func TestPublisherFailureDoesNotFailOperation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rules, err := ruleset.Default()
	require.NoError(t, err)
	svc := guild.New(memory.New(), rules,
		guild.WithLogger(zap.New(core)),
		guild.WithPublisher(failingPublisher{}),
	)
	_, evs, err := svc.CreateCharacter(context.Background(), uuid.New(), "Ana", "orc", "warrior")
	require.NoError(t, err)
	assert.NotEmpty(t, evs)
	assert.Equal(t, 1, logs.FilterMessage("publishing events failed").Len())
}

func TestPublisher_OnlyCommittedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newHero(t, "Ana")
	r := f.newRaid(t, 100, 10, 0)

	_, _, err := f.svc.Contribute(ctx, guild.ContributeRequest{RaidID: r.ID, UserID: user, Description: "run"})
	require.Error(t, err)
	assert.Empty(t, f.rec.OfKind(events.RaidContribution))
	assert.Len(t, f.rec.OfKind(events.CharacterCreated), 1)
	assert.Len(t, f.rec.OfKind(events.RaidCreated), 1)
}
