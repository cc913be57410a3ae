package scripting

import (
	"math"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// registerModules installs the guild.* helper table into L.
//
// Precondition: L must be from NewSandboxedState; logger must be non-nil.
// Postcondition: guild global is defined in L.
func registerModules(L *lua.LState, logger *zap.Logger) {
	guild := L.NewTable()
	L.SetField(guild, "round", L.NewFunction(func(L *lua.LState) int {
		x := float64(L.CheckNumber(1))
		L.Push(lua.LNumber(math.Floor(x + 0.5)))
		return 1
	}))
	L.SetField(guild, "clamp", L.NewFunction(func(L *lua.LState) int {
		x := float64(L.CheckNumber(1))
		lo := float64(L.CheckNumber(2))
		hi := float64(L.CheckNumber(3))
		L.Push(lua.LNumber(math.Max(lo, math.Min(hi, x))))
		return 1
	}))
	L.SetField(guild, "log", L.NewFunction(func(L *lua.LState) int {
		logger.Debug("scripting: lua log", zap.String("message", L.CheckString(1)))
		return 0
	}))
	L.SetGlobal("guild", guild)
}
