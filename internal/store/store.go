// Package store persists an audit log of addon and restart events to
// PostgreSQL. A NullStore fallback lets the supervisor run without a
// database configured.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"

	"github.com/nobwow/stkwrapper-go/internal/store/migrations"
)

// EventKind classifies one recorded event.
type EventKind string

const (
	EventAddonInstalled   EventKind = "addon_installed"
	EventAddonUpdated     EventKind = "addon_updated"
	EventAddonUninstalled EventKind = "addon_uninstalled"
	EventRestartBroadcast EventKind = "restart_broadcast"
	EventServerStarted    EventKind = "server_started"
	EventServerStopped    EventKind = "server_stopped"
	EventServerCrashed    EventKind = "server_crashed"
)

// Event is one row of the audit log.
type Event struct {
	Kind         EventKind
	InstanceName string
	AddonID      string
	Detail       string
	OccurredAt   time.Time
}

// Store records and retrieves audit events. RecordEvent failures are always
// non-fatal to callers — see the error handling design for background
// tasks — so implementations should favor returning a wrapped error over
// panicking or blocking indefinitely.
type Store interface {
	RecordEvent(ctx context.Context, ev Event) error
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
	Close()
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a ready PostgresStore. Callers
// should run RunMigrations once before first use.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: pinging: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool returns the underlying pgx pool, for callers that need direct
// access (none currently do; kept for symmetry with New/RunMigrations).
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

var gooseOnce sync.Once

// RunMigrations runs the embedded audit-log schema migrations against
// dsn. Callers run this once before the first New, using the same DSN,
// since goose drives its own *sql.DB separate from the pgxpool pool New
// opens for query traffic.
func RunMigrations(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("store: opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	var dialectErr error
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		dialectErr = goose.SetDialect("postgres")
	})
	if dialectErr != nil {
		return fmt.Errorf("store: setting goose dialect: %w", dialectErr)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// RecordEvent inserts one audit row.
func (s *PostgresStore) RecordEvent(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (kind, instance_name, addon_id, detail) VALUES ($1, $2, $3, $4)`,
		string(ev.Kind), ev.InstanceName, ev.AddonID, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("store: recording event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, most recent first.
func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, instance_name, addon_id, detail, occurred_at
		 FROM events ORDER BY occurred_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: querying events: %w", err)
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var ev Event
		var kind string
		if err := row.Scan(&kind, &ev.InstanceName, &ev.AddonID, &ev.Detail, &ev.OccurredAt); err != nil {
			return Event{}, err
		}
		ev.Kind = EventKind(kind)
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scanning events: %w", err)
	}
	return events, nil
}

// NullStore discards every event. Used when no DSN is configured so the
// supervisor can run standalone.
type NullStore struct{}

func (NullStore) RecordEvent(context.Context, Event) error          { return nil }
func (NullStore) RecentEvents(context.Context, int) ([]Event, error) { return nil, nil }
func (NullStore) Close()                                             {}
