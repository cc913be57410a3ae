// Package postgres provides PostgreSQL persistence for the guild engine using
// pgx v5.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gymguild/internal/config"
)

// DefaultHealthTimeout bounds Health when the configuration sets none.
const DefaultHealthTimeout = 5 * time.Second

// guildTxOptions is the isolation every guild transaction runs at. Ordering
// comes from FOR UPDATE row locks and guarded UPDATEs.
var guildTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Pool is the guild's connection pool. It owns the transaction options every
// Store transaction uses and the health-check deadline.
type Pool struct {
	pool          *pgxpool.Pool
	healthTimeout time.Duration
}

// poolConfig translates cfg into pgxpool settings. Session parameters are sent
// on every new connection.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	params := poolCfg.ConnConfig.RuntimeParams
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return poolCfg, nil
}

// NewPool connects to the guild database described by cfg.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a pinged Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s/%s: %w", cfg.Host, cfg.Name, err)
	}
	timeout := cfg.HealthTimeout
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return &Pool{pool: pool, healthTimeout: timeout}, nil
}

// Store returns a guild.Store over this pool.
func (p *Pool) Store() *Store {
	return NewStore(p)
}

// inTx runs fn in one transaction at the guild isolation level, committing
// only when fn returns nil. Serialization failures and deadlocks surface as
// guild.ErrConcurrencyConflict.
func (p *Pool) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return classify(pgx.BeginTxFunc(ctx, p.pool, guildTxOptions, fn))
}

// Health pings the database within the configured health timeout.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database unhealthy after %s: %w", p.healthTimeout, err)
	}
	return nil
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
