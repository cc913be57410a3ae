package raid_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gymguild/internal/game/raid"
)

var epoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func validDraft() raid.Draft {
	return raid.Draft{
		Title:             "Leg Day Titan",
		BossName:          "Quadzilla",
		BossMaxHealth:     100,
		XPPerContribution: 10,
		CompletionBonusXP: 50,
		StartsAt:          epoch,
		EndsAt:            epoch.Add(72 * time.Hour),
	}
}

func TestNew_InitialStatusFromClock(t *testing.T) {
	r, err := raid.New(validDraft(), epoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, raid.StatusUpcoming, r.Status)
	assert.Equal(t, 100, r.BossCurrentHealth)

	r, err = raid.New(validDraft(), epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, raid.StatusActive, r.Status)
}

func TestNew_RejectsInvalidDraft(t *testing.T) {
	cases := map[string]func(*raid.Draft){
		"blank title":       func(d *raid.Draft) { d.Title = "  " },
		"blank boss":        func(d *raid.Draft) { d.BossName = "" },
		"zero health":       func(d *raid.Draft) { d.BossMaxHealth = 0 },
		"negative xp":       func(d *raid.Draft) { d.XPPerContribution = -1 },
		"negative bonus":    func(d *raid.Draft) { d.CompletionBonusXP = -5 },
		"inverted window":   func(d *raid.Draft) { d.EndsAt = d.StartsAt.Add(-time.Minute) },
		"zero-width window": func(d *raid.Draft) { d.EndsAt = d.StartsAt },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := validDraft()
			mutate(&d)
			_, err := raid.New(d, epoch)
			assert.ErrorIs(t, err, raid.ErrInvalidRaid)
		})
	}
}

func TestStatusAt_Window(t *testing.T) {
	r, err := raid.New(validDraft(), epoch)
	require.NoError(t, err)
	assert.Equal(t, raid.StatusUpcoming, r.StatusAt(epoch.Add(-time.Nanosecond)))
	assert.Equal(t, raid.StatusActive, r.StatusAt(epoch))
	assert.Equal(t, raid.StatusActive, r.StatusAt(r.EndsAt.Add(-time.Nanosecond)))
	assert.Equal(t, raid.StatusFailed, r.StatusAt(r.EndsAt))
}

func TestCheckActive(t *testing.T) {
	r, err := raid.New(validDraft(), epoch)
	require.NoError(t, err)
	assert.NoError(t, r.CheckActive(epoch.Add(time.Hour)))
	assert.ErrorIs(t, r.CheckActive(epoch.Add(-time.Hour)), raid.ErrRaidNotJoinable)
	assert.ErrorIs(t, r.CheckActive(r.EndsAt), raid.ErrRaidNotJoinable)
}

func TestApplyDamage_FloorsAndCompletes(t *testing.T) {
	r, err := raid.New(validDraft(), epoch)
	require.NoError(t, err)

	before, after, defeated, err := r.ApplyDamage(30)
	require.NoError(t, err)
	assert.Equal(t, 100, before)
	assert.Equal(t, 70, after)
	assert.False(t, defeated)

	_, after, defeated, err = r.ApplyDamage(500)
	require.NoError(t, err)
	assert.Zero(t, after)
	assert.True(t, defeated)
	assert.Equal(t, raid.StatusCompleted, r.Status)

	_, _, defeated, err = r.ApplyDamage(1)
	assert.ErrorIs(t, err, raid.ErrRaidNotJoinable)
	assert.False(t, defeated)
	assert.Zero(t, r.BossCurrentHealth)
}

func TestAdvance_NeverLeavesTerminal(t *testing.T) {
	r, err := raid.New(validDraft(), epoch.Add(-time.Hour))
	require.NoError(t, err)

	prev, changed := r.Advance(epoch.Add(time.Minute))
	assert.True(t, changed)
	assert.Equal(t, raid.StatusUpcoming, prev)
	assert.Equal(t, raid.StatusActive, r.Status)

	_, changed = r.Advance(r.EndsAt.Add(time.Second))
	assert.True(t, changed)
	assert.Equal(t, raid.StatusFailed, r.Status)

	_, changed = r.Advance(epoch)
	assert.False(t, changed)
	assert.Equal(t, raid.StatusFailed, r.Status)
}

func TestAdvance_UpcomingStraightToFailed(t *testing.T) {
	r, err := raid.New(validDraft(), epoch.Add(-time.Hour))
	require.NoError(t, err)
	prev, changed := r.Advance(r.EndsAt.Add(time.Hour))
	assert.True(t, changed)
	assert.Equal(t, raid.StatusUpcoming, prev)
	assert.Equal(t, raid.StatusFailed, r.Status)
}

func TestSortByDamage(t *testing.T) {
	a := &raid.Participant{UserID: uuid.New(), DamageDealt: 10, JoinedAt: epoch.Add(2 * time.Minute)}
	b := &raid.Participant{UserID: uuid.New(), DamageDealt: 30, JoinedAt: epoch}
	c := &raid.Participant{UserID: uuid.New(), DamageDealt: 10, JoinedAt: epoch.Add(time.Minute)}
	ps := []*raid.Participant{a, b, c}
	raid.SortByDamage(ps)
	assert.Equal(t, []*raid.Participant{b, c, a}, ps)
}

func TestNormalizeDescription(t *testing.T) {
	d, err := raid.NormalizeDescription("  5k run \n")
	require.NoError(t, err)
	assert.Equal(t, "5k run", d)
	_, err = raid.NormalizeDescription(" \t\n")
	assert.ErrorIs(t, err, raid.ErrInvalidContribution)
}

func TestParticipant_Record(t *testing.T) {
	p := raid.NewParticipant(uuid.New(), uuid.New(), epoch)
	p.Record(23)
	p.Record(20)
	assert.Equal(t, 43, p.DamageDealt)
	assert.Equal(t, 2, p.ContributionCount)

	c, err := raid.NewContribution(p, "squats", 23, "", epoch)
	require.NoError(t, err)
	assert.Equal(t, p.ID, c.ParticipantID)
	assert.Equal(t, p.RaidID, c.RaidID)
	_, err = raid.NewContribution(p, "squats", 0, "", epoch)
	assert.Error(t, err)
}

// Property: health is non-increasing, floored at 0, and exactly one call
// reports the defeat.
func TestProperty_ApplyDamage_HealthMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := validDraft()
		d.BossMaxHealth = rapid.IntRange(1, 5000).Draw(rt, "max")
		r, err := raid.New(d, epoch)
		if err != nil {
			rt.Fatal(err)
		}
		hits := rapid.SliceOfN(rapid.IntRange(1, 300), 1, 60).Draw(rt, "hits")
		defeats := 0
		last := r.BossCurrentHealth
		for _, h := range hits {
			_, after, defeated, err := r.ApplyDamage(h)
			if err != nil {
				continue
			}
			if after > last || after < 0 {
				rt.Fatalf("health went from %d to %d", last, after)
			}
			if defeated {
				defeats++
			}
			last = after
		}
		if defeats > 1 {
			rt.Fatalf("defeated reported %d times", defeats)
		}
		if (r.BossCurrentHealth == 0) != (defeats == 1) {
			rt.Fatalf("health %d but defeats %d", r.BossCurrentHealth, defeats)
		}
	})
}
