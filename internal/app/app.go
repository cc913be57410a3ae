// Package app assembles a guild.Service from configuration for the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gymguild/internal/config"
	"github.com/cory-johannsen/gymguild/internal/events"
	"github.com/cory-johannsen/gymguild/internal/events/redisbus"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
	"github.com/cory-johannsen/gymguild/internal/game/ruleset"
	"github.com/cory-johannsen/gymguild/internal/guild"
	"github.com/cory-johannsen/gymguild/internal/scripting"
	"github.com/cory-johannsen/gymguild/internal/storage/postgres"
)

// App holds the service and the resources backing it.
type App struct {
	Service *guild.Service
	Pool    *postgres.Pool
	// Bus is nil when Redis broadcasting is disabled.
	Bus    *redisbus.Bus
	script *scripting.DamageScript
	logger *zap.Logger
}

// LoadRules loads the ruleset named by cfg: the embedded content unless
// ContentDir is set.
func LoadRules(cfg config.RulesConfig) (*ruleset.Ruleset, error) {
	if cfg.ContentDir != "" {
		return ruleset.LoadDir(cfg.ContentDir)
	}
	return ruleset.Default()
}

// DamageFormula returns the Lua damage script named by cfg, or nil when none
// is configured.
func DamageFormula(cfg config.RulesConfig, rules *ruleset.Ruleset, logger *zap.Logger) (*scripting.DamageScript, error) {
	if cfg.DamageScript == "" {
		return nil, nil
	}
	dmg := rules.Damage()
	policy := raid.DamagePolicy{BaseDamage: dmg.BaseDamage, StatDivisor: dmg.StatDivisor}
	return scripting.LoadDamageScript(cfg.DamageScript, policy, cfg.ScriptInstructionLimit, logger)
}

// Open connects to PostgreSQL (and Redis when enabled), loads the ruleset
// and returns a ready App.
//
// Precondition: cfg must have passed Validate; logger must be non-nil.
// Postcondition: On error every resource opened so far has been released.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	rulesStart := time.Now()
	rules, err := LoadRules(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("loading ruleset: %w", err)
	}
	logger.Info("ruleset loaded",
		zap.Int("races", len(rules.Races())),
		zap.Int("classes", len(rules.Classes())),
		zap.Int("quest_types", len(rules.QuestTypes())),
		zap.Int("max_level", rules.Curve().MaxLevel()),
		zap.Duration("elapsed", time.Since(rulesStart)),
	)

	opts := []guild.Option{
		guild.WithLogger(logger),
		guild.WithLeaderboardLimit(cfg.Guild.LeaderboardLimit),
	}

	a.script, err = DamageFormula(cfg.Rules, rules, logger)
	if err != nil {
		return nil, fmt.Errorf("loading damage script: %w", err)
	}
	if a.script != nil {
		opts = append(opts, guild.WithDamageFormula(a.script))
		logger.Info("damage script loaded", zap.String("path", cfg.Rules.DamageScript))
	}

	dbStart := time.Now()
	a.Pool, err = postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	if cfg.Redis.Enabled {
		a.Bus, err = redisbus.Connect(ctx, redisbus.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, guild.WithPublisher(a.Bus))
		logger.Info("event bus connected",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("channel", a.Bus.Channel()),
		)
	} else {
		opts = append(opts, guild.WithPublisher(events.Nop{}))
	}

	a.Service = guild.New(a.Pool.Store(), rules, opts...)
	ok = true
	return a, nil
}

// Close releases every resource the App holds. It is safe on a partly
// opened App.
func (a *App) Close() {
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.logger.Warn("closing event bus", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.script != nil {
		a.script.Close()
	}
}
