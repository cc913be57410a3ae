package raid_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
)

func TestDamagePolicy_Reference(t *testing.T) {
	p := raid.DefaultDamagePolicy()
	cases := []struct {
		str, con, want int
	}{
		{14, 12, 23},
		{10, 10, 20},
		{16, 12, 24},
		{15, 10, 23}, // 22.5 rounds up
		{1, 1, 11},
	}
	for _, tc := range cases {
		got := p.Compute(character.Attributes{Strength: tc.str, Constitution: tc.con, Agility: 99, Wisdom: 99})
		assert.Equal(t, tc.want, got, "str=%d con=%d", tc.str, tc.con)
	}
}

func TestDamagePolicy_FloorOfOne(t *testing.T) {
	p := raid.DamagePolicy{BaseDamage: 0, StatDivisor: 20}
	assert.Equal(t, 1, p.Compute(character.Attributes{Strength: 1, Constitution: 1}))
}

func TestDamagePolicy_RejectsZeroDivisor(t *testing.T) {
	_, err := raid.DamagePolicy{BaseDamage: 10}.Damage(context.Background(), character.Attributes{})
	assert.Error(t, err)
}

func TestDamagePolicy_ImplementsFormula(t *testing.T) {
	var f raid.DamageFormula = raid.DefaultDamagePolicy()
	d, err := f.Damage(context.Background(), character.Attributes{Strength: 14, Constitution: 12})
	require.NoError(t, err)
	assert.Equal(t, 23, d)
}

// Property: the integer formula agrees with floating half-up rounding and never drops below 1.
func TestProperty_DamagePolicy_MatchesFloat(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := raid.DamagePolicy{
			BaseDamage:  rapid.IntRange(1, 100).Draw(rt, "base"),
			StatDivisor: rapid.IntRange(1, 100).Draw(rt, "div"),
		}
		a := character.Attributes{
			Strength:     rapid.IntRange(1, 60).Draw(rt, "str"),
			Constitution: rapid.IntRange(1, 60).Draw(rt, "con"),
		}
		got := p.Compute(a)
		exact := float64(p.BaseDamage) * (1 + float64(a.Strength+a.Constitution)/float64(p.StatDivisor))
		want := int(math.Floor(exact + 0.5))
		if want < 1 {
			want = 1
		}
		if d := got - want; d < -1 || d > 1 {
			rt.Fatalf("got %d, float reference %d", got, want)
		}
		if got < 1 {
			rt.Fatalf("damage %d below floor", got)
		}
	})
}
