package scripting

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
)

// DamageFunction is the Lua global a damage script must define:
//
//	function damage(strength, agility, constitution, wisdom, base, divisor)
const DamageFunction = "damage"

const maxScriptDamage = 1 << 30

// DamageScript is a raid.DamageFormula backed by a Lua function.
//
// DamageScript is safe for concurrent use; calls are serialized on one LState.
type DamageScript struct {
	mu     sync.Mutex
	L      *lua.LState
	name   string
	policy raid.DamagePolicy
	limit  int
	logger *zap.Logger
}

// LoadDamageScript reads and compiles the script at path.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a ready DamageScript or an error if the file cannot
// be read, fails to run, or does not define DamageFunction.
func LoadDamageScript(path string, policy raid.DamagePolicy, instLimit int, logger *zap.Logger) (*DamageScript, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: reading damage script %q: %w", path, err)
	}
	return NewDamageScript(path, string(src), policy, instLimit, logger)
}

// NewDamageScript compiles source under name. policy supplies the base and
// divisor arguments passed to the Lua function.
//
// Precondition: logger must be non-nil; policy.StatDivisor > 0.
// Postcondition: Returns a ready DamageScript or a non-nil error.
func NewDamageScript(name, source string, policy raid.DamagePolicy, instLimit int, logger *zap.Logger) (*DamageScript, error) {
	if policy.StatDivisor <= 0 {
		return nil, fmt.Errorf("scripting: stat divisor must be positive, got %d", policy.StatDivisor)
	}
	L := NewSandboxedState()
	registerModules(L, logger)

	err := limitedCall(context.Background(), L, instLimit, func() error {
		return L.DoString(source)
	})
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("scripting: loading %q: %w", name, err)
	}
	if L.GetGlobal(DamageFunction).Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("scripting: %q does not define function %s", name, DamageFunction)
	}
	return &DamageScript{
		L:      L,
		name:   name,
		policy: policy,
		limit:  instLimit,
		logger: logger,
	}, nil
}

// Damage implements raid.DamageFormula. The Lua result is rounded half-up and
// floored at 1.
//
// Postcondition: Returns an error if the script raises, exceeds its
// instruction budget, returns a non-number, or ctx is cancelled.
func (s *DamageScript) Damage(ctx context.Context, attrs character.Attributes) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ret lua.LValue
	err := limitedCall(ctx, s.L, s.limit, func() error {
		if err := s.L.CallByParam(lua.P{
			Fn:      s.L.GetGlobal(DamageFunction),
			NRet:    1,
			Protect: true,
		},
			lua.LNumber(attrs.Strength),
			lua.LNumber(attrs.Agility),
			lua.LNumber(attrs.Constitution),
			lua.LNumber(attrs.Wisdom),
			lua.LNumber(s.policy.BaseDamage),
			lua.LNumber(s.policy.StatDivisor),
		); err != nil {
			return err
		}
		ret = s.L.Get(-1)
		s.L.Pop(1)
		return nil
	})
	if err != nil {
		s.logger.Warn("scripting: damage script failed",
			zap.String("script", s.name),
			zap.Error(err),
		)
		return 0, fmt.Errorf("scripting: %s: %w", s.name, err)
	}

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("scripting: %s: %s returned %s, want number", s.name, DamageFunction, ret.Type())
	}
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxScriptDamage {
		return 0, fmt.Errorf("scripting: %s: %s returned out-of-range %v", s.name, DamageFunction, f)
	}
	return raid.FloorDamage(int(math.Floor(f + 0.5))), nil
}

// Close releases the Lua state.
func (s *DamageScript) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}
