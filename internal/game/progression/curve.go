// Package progression owns the level curve and the XP ledger: the rules that
// turn experience grants into a cached XP total and a derived level.
package progression

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidCurve is returned when a level curve fails validation.
var ErrInvalidCurve = errors.New("invalid level curve")

// Tier is one step of the level curve.
type Tier struct {
	Level      int    `yaml:"level"`
	XPRequired int    `yaml:"xp_required"`
	Title      string `yaml:"title"`
}

// Curve maps cumulative XP to a level via ascending thresholds.
//
// Invariant: tiers[0].XPRequired == 0 and thresholds are strictly ascending.
type Curve struct {
	tiers []Tier
}

// NewCurve validates tiers and returns a Curve over a private copy of them.
// A zero Level on a tier is filled in from its position.
//
// Precondition: tiers must be ordered by level.
// Postcondition: Returns a Curve whose MaxLevel is len(tiers), or ErrInvalidCurve.
func NewCurve(tiers []Tier) (*Curve, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidCurve)
	}
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	for i := range out {
		want := i + 1
		if out[i].Level == 0 {
			out[i].Level = want
		}
		if out[i].Level != want {
			return nil, fmt.Errorf("%w: tier %d declares level %d", ErrInvalidCurve, want, out[i].Level)
		}
		if i == 0 {
			if out[i].XPRequired != 0 {
				return nil, fmt.Errorf("%w: level 1 must start at 0 xp, got %d", ErrInvalidCurve, out[i].XPRequired)
			}
			continue
		}
		if out[i].XPRequired <= out[i-1].XPRequired {
			return nil, fmt.Errorf("%w: level %d threshold %d not above level %d threshold %d",
				ErrInvalidCurve, want, out[i].XPRequired, i, out[i-1].XPRequired)
		}
	}
	return &Curve{tiers: out}, nil
}

// MaxLevel returns the highest level the curve defines.
func (c *Curve) MaxLevel() int {
	return len(c.tiers)
}

// Tiers returns a copy of the curve's tiers.
func (c *Curve) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// LevelForXP returns the level reached with xp cumulative experience.
//
// Postcondition: 1 <= result <= MaxLevel(); non-decreasing in xp.
func (c *Curve) LevelForXP(xp int) int {
	n := sort.Search(len(c.tiers), func(i int) bool {
		return c.tiers[i].XPRequired > xp
	})
	if n < 1 {
		return 1
	}
	return n
}

// ThresholdForLevel returns the cumulative XP required for level, with level
// clamped into [1, MaxLevel()].
func (c *Curve) ThresholdForLevel(level int) int {
	return c.tiers[c.clamp(level)-1].XPRequired
}

// TitleForLevel returns the named tier for level, clamped like ThresholdForLevel.
func (c *Curve) TitleForLevel(level int) string {
	return c.tiers[c.clamp(level)-1].Title
}

func (c *Curve) clamp(level int) int {
	if level < 1 {
		return 1
	}
	if level > len(c.tiers) {
		return len(c.tiers)
	}
	return level
}

// Progress is the read-side view of a character's position on the curve.
type Progress struct {
	XP        int
	Level     int
	Title     string
	XPInLevel int
	XPNeeded  int
	Percent   float64
	MaxLevel  bool
}

// Progress derives progress-bar values for xp.
//
// Postcondition: 0 <= Percent <= 100. At max level XPNeeded is 0 and Percent is 100.
func (c *Curve) Progress(xp int) Progress {
	level := c.LevelForXP(xp)
	current := c.ThresholdForLevel(level)
	p := Progress{
		XP:        xp,
		Level:     level,
		Title:     c.TitleForLevel(level),
		XPInLevel: xp - current,
	}
	if level >= c.MaxLevel() {
		p.MaxLevel = true
		p.Percent = 100
		return p
	}
	p.XPNeeded = c.ThresholdForLevel(level+1) - current
	pct := float64(p.XPInLevel) / float64(p.XPNeeded) * 100
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	p.Percent = pct
	return p
}
