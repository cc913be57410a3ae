package main

import (
	"bytes"
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/gymguild/internal/game/quest"
	"github.com/cory-johannsen/gymguild/internal/game/ruleset"
	"github.com/cory-johannsen/gymguild/internal/guild"
	"github.com/cory-johannsen/gymguild/internal/storage/memory"
)

func newEnv(t *testing.T) (*env, *bytes.Buffer) {
	t.Helper()
	rules, err := ruleset.Default()
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	out := &bytes.Buffer{}
	return &env{svc: guild.New(memory.New(), rules, guild.WithLogger(logger)), out: out, logger: logger}, out
}

func run(t *testing.T, e *env, out *bytes.Buffer, args ...string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, dispatch(context.Background(), e, args))
	return out.String()
}

var idPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func TestDispatch_UnknownCommand(t *testing.T) {
	e, _ := newEnv(t)
	assert.ErrorIs(t, dispatch(context.Background(), e, []string{"dance"}), errUsage)
	assert.ErrorIs(t, dispatch(context.Background(), e, nil), errUsage)
}

func TestDispatch_MissingFlags(t *testing.T) {
	e, _ := newEnv(t)
	err := dispatch(context.Background(), e, []string{"character", "-user", uuid.NewString()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-name")
}

func TestDispatch_QuestFlow(t *testing.T) {
	e, out := newEnv(t)
	user := uuid.NewString()

	got := run(t, e, out, "character", "-user", user, "-name", "Ana", "-race", "orc", "-class", "warrior")
	assert.Contains(t, got, "str 16")

	got = run(t, e, out, "quest", "-user", user, "-title", "Deadlifts", "-type", "strength", "-difficulty", "hard")
	assert.Contains(t, got, "worth 90 xp")
	questID := idPattern.FindString(got)
	require.NotEmpty(t, questID)

	got = run(t, e, out, "complete", "-user", user, "-quest", questID)
	assert.Contains(t, got, "+90 xp")

	err := dispatch(context.Background(), e, []string{"complete", "-user", user, "-quest", questID})
	assert.ErrorIs(t, err, quest.ErrQuestNotActive)

	got = run(t, e, out, "audit", "-user", user)
	assert.Contains(t, got, "consistent")

	got = run(t, e, out, "leaderboard")
	assert.Contains(t, got, "Ana")
}

func TestDispatch_FeedAndSupport(t *testing.T) {
	e, out := newEnv(t)
	owner, fan := uuid.NewString(), uuid.NewString()
	run(t, e, out, "character", "-user", owner, "-name", "Ana", "-race", "human", "-class", "warrior")
	run(t, e, out, "character", "-user", fan, "-name", "Bea", "-race", "elf", "-class", "mage")

	got := run(t, e, out, "quest", "-user", owner, "-title", "Half marathon", "-type", "cardio", "-public")
	questID := idPattern.FindString(got)
	require.NotEmpty(t, questID)

	got = run(t, e, out, "feed", "-user", fan)
	assert.Contains(t, got, "Half marathon")
	got = run(t, e, out, "feed", "-user", owner)
	assert.NotContains(t, got, "Half marathon")

	got = run(t, e, out, "support", "-user", fan, "-quest", questID, "-emoji", "🔥")
	assert.Contains(t, got, "sent support 🔥")
	got = run(t, e, out, "support", "-user", fan, "-quest", questID, "-emoji", "💪")
	assert.Contains(t, got, "updated support 💪")

	err := dispatch(context.Background(), e, []string{"support", "-user", owner, "-quest", questID, "-emoji", "🔥"})
	assert.ErrorIs(t, err, quest.ErrSelfSupport)
}

func TestDispatch_RaidFlow(t *testing.T) {
	e, out := newEnv(t)
	user := uuid.NewString()
	run(t, e, out, "character", "-user", user, "-name", "Bea", "-race", "human", "-class", "warrior")

	got := run(t, e, out, "raid", "-title", "Iron Week", "-boss", "Sloth", "-health", "30", "-xp", "5", "-bonus", "20")
	assert.Contains(t, got, "is active")
	raidID := idPattern.FindString(got)
	require.NotEmpty(t, raidID)

	assert.Contains(t, run(t, e, out, "join", "-raid", raidID, "-user", user), "joined")
	assert.Contains(t, run(t, e, out, "join", "-raid", raidID, "-user", user), "already in")

	got = run(t, e, out, "contribute", "-raid", raidID, "-user", user, "-desc", "squats")
	assert.Contains(t, got, "dealt 23 damage: boss 30 -> 7")

	got = run(t, e, out, "contribute", "-raid", raidID, "-user", user, "-desc", "rows")
	assert.Contains(t, got, "boss defeated! 1 participants rewarded")

	got = run(t, e, out, "standings", "-raid", raidID)
	assert.Contains(t, got, "0/30 hp")

	got = run(t, e, out, "history", "-user", user)
	assert.Contains(t, got, "raid_victory")

	assert.Contains(t, run(t, e, out, "sweep"), "no raid status changes")
}

func TestDispatch_Rules(t *testing.T) {
	e, out := newEnv(t)
	got := run(t, e, out, "rules")
	assert.Contains(t, got, "halfling")
	assert.Contains(t, got, "base_xp=100")
}
