package raid

import (
	"context"
	"fmt"

	"github.com/cory-johannsen/gymguild/internal/game/character"
)

// Reference damage constants.
const (
	DefaultBaseDamage  = 10
	DefaultStatDivisor = 20
)

// DamageFormula computes the damage one contribution deals.
// Implementations must be safe for concurrent use.
type DamageFormula interface {
	Damage(ctx context.Context, attrs character.Attributes) (int, error)
}

// DamagePolicy is the built-in formula:
// round_half_up(BaseDamage × (1 + (strength + constitution) / StatDivisor)),
// floored at 1.
type DamagePolicy struct {
	BaseDamage  int
	StatDivisor int
}

// DefaultDamagePolicy returns the reference constants.
func DefaultDamagePolicy() DamagePolicy {
	return DamagePolicy{BaseDamage: DefaultBaseDamage, StatDivisor: DefaultStatDivisor}
}

// Compute applies the formula in integer arithmetic.
//
// Precondition: StatDivisor > 0.
// Postcondition: Returns a value >= 1.
func (p DamagePolicy) Compute(attrs character.Attributes) int {
	div := p.StatDivisor
	num := p.BaseDamage * (div + attrs.Strength + attrs.Constitution)
	return FloorDamage(roundHalfUpDiv(num, div))
}

// Damage implements DamageFormula.
func (p DamagePolicy) Damage(_ context.Context, attrs character.Attributes) (int, error) {
	if p.StatDivisor <= 0 {
		return 0, fmt.Errorf("damage policy: stat divisor must be positive, got %d", p.StatDivisor)
	}
	return p.Compute(attrs), nil
}

// roundHalfUpDiv returns num/den rounded half toward positive infinity.
func roundHalfUpDiv(num, den int) int {
	n := 2*num + den
	d := 2 * den
	q := n / d
	if n%d != 0 && (n < 0) != (d < 0) {
		q--
	}
	return q
}

// FloorDamage clamps d to the minimum damage of 1.
func FloorDamage(d int) int {
	if d < 1 {
		return 1
	}
	return d
}
