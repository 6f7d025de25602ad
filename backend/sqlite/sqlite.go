package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

// NewInMemoryStore returns a store backed by a private in-memory database.
func NewInMemoryStore(opts ...option) *sqliteStore {
	s := newSqliteStore("file::memory:", opts...)

	// Every connection would otherwise get its own empty database.
	s.db.SetMaxOpenConns(1)

	if s.options.ApplyMigrations {
		if err := s.Migrate(); err != nil {
			panic(err)
		}
	}

	return s
}

func NewSqliteStore(path string, opts ...option) *sqliteStore {
	s := newSqliteStore(
		fmt.Sprintf("file:%v?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path),
		opts...,
	)

	if s.options.ApplyMigrations {
		if err := s.Migrate(); err != nil {
			panic(err)
		}
	}

	return s
}

func newSqliteStore(dsn string, opts ...option) *sqliteStore {
	o := backend.ApplyOptions()
	options := &options{
		Options:         &o,
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	return &sqliteStore{
		db:      db,
		options: options,
	}
}

type sqliteStore struct {
	db      *sql.DB
	options *options
}

var _ backend.Store = (*sqliteStore)(nil)

// Migrate applies any pending database migrations.
func (s *sqliteStore) Migrate() error {
	dbi, err := msqlite.WithInstance(s.db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Tracer() trace.Tracer {
	return s.options.TracerProvider.Tracer(backend.TracerName)
}

func (s *sqliteStore) Metrics() metrics.Client {
	return s.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "sqlite"})
}

func (s *sqliteStore) Options() *backend.Options {
	return s.options.Options
}

func (s *sqliteStore) GetCheckpoint(ctx context.Context, flowID string) (*core.CheckpointState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT state FROM `checkpoints` WHERE flow_id = ?", flowID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting checkpoint: %w", err)
	}

	cp := &core.CheckpointState{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}

	return cp, nil
}

func (s *sqliteStore) Commit(ctx context.Context, c *backend.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	now := s.options.Clock.Now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if c.State != nil {
		data, err := json.Marshal(c.State)
		if err != nil {
			return fmt.Errorf("marshaling checkpoint: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO `checkpoints` (flow_id, state, updated_at) VALUES (?, ?, ?) ON CONFLICT(flow_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at",
			c.FlowID, data, now,
		); err != nil {
			return fmt.Errorf("storing checkpoint: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, "DELETE FROM `checkpoints` WHERE flow_id = ?", c.FlowID); err != nil {
			return fmt.Errorf("deleting checkpoint: %w", err)
		}
	}

	if err := insertOutbox(ctx, tx, c.FlowID, c.Records, now); err != nil {
		return err
	}

	if c.DeadLetter != nil {
		data, err := json.Marshal(c.DeadLetter)
		if err != nil {
			return fmt.Errorf("marshaling dead letter: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO `dead_letters` (id, flow_id, record, created_at) VALUES (?, ?, ?, ?)",
			uuid.NewString(), c.FlowID, data, now,
		); err != nil {
			return fmt.Errorf("storing dead letter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, flowID string, records []*core.Record, now int64) error {
	if len(records) == 0 {
		return nil
	}

	query := "INSERT INTO `outbox` (id, flow_id, topic, record, created_at) VALUES (?, ?, ?, ?, ?)" +
		strings.Repeat(", (?, ?, ?, ?, ?)", len(records)-1)

	args := make([]interface{}, 0, len(records)*5)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}

		args = append(args, uuid.NewString(), flowID, r.Topic, data, now)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting outbox records: %w", err)
	}

	return nil
}

func (s *sqliteStore) GetOutbox(ctx context.Context, limit int) ([]*backend.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, flow_id, record, created_at FROM `outbox` ORDER BY seq LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var entries []*backend.OutboxEntry
	for rows.Next() {
		var id, flowID string
		var data []byte
		var createdAt int64
		if err := rows.Scan(&id, &flowID, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", err)
		}

		r := &core.Record{}
		if err := json.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("unmarshaling record: %w", err)
		}

		entries = append(entries, &backend.OutboxEntry{ID: id, FlowID: flowID, Record: r, CreatedAt: time.Unix(0, createdAt).UTC()})
	}

	return entries, rows.Err()
}

func (s *sqliteStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	query := "DELETE FROM `outbox` WHERE id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("acknowledging outbox entries: %w", err)
	}

	return nil
}

func (s *sqliteStore) GetDeadLetters(ctx context.Context) ([]*backend.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, record, created_at FROM `dead_letters` ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	var dls []*backend.DeadLetter
	for rows.Next() {
		var id string
		var data []byte
		var createdAt int64
		if err := rows.Scan(&id, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}

		r := &core.Record{}
		if err := json.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("unmarshaling dead letter: %w", err)
		}

		dls = append(dls, &backend.DeadLetter{ID: id, Record: r, CreatedAt: time.Unix(0, createdAt).UTC()})
	}

	return dls, rows.Err()
}

func (s *sqliteStore) GetStats(ctx context.Context) (*backend.Stats, error) {
	stats := &backend.Stats{}

	row := s.db.QueryRowContext(
		ctx,
		"SELECT (SELECT COUNT(*) FROM `checkpoints`), (SELECT COUNT(*) FROM `outbox`), (SELECT COUNT(*) FROM `dead_letters`)",
	)
	if err := row.Scan(&stats.Checkpoints, &stats.PendingOutbox, &stats.DeadLetters); err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}

	return stats, nil
}
