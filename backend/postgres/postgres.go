package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

func NewPostgresStore(host string, port int, user, password, database string, opts ...option) *postgresStore {
	options := &options{
		Options:         newBackendOptions(),
		ApplyMigrations: true,
		SSLMode:         "disable",
	}

	for _, opt := range opts {
		opt(options)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", host, port, user, password, database, options.SSLMode)
	if options.ApplicationName != "" {
		dsn += " application_name=" + options.ApplicationName
	}

	return newPostgresStore(dsn, options)
}

// NewPostgresStoreFromDSN creates a store from a lib/pq connection string or URL.
func NewPostgresStoreFromDSN(dsn string, opts ...option) *postgresStore {
	options := &options{
		Options:         newBackendOptions(),
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	return newPostgresStore(dsn, options)
}

func newBackendOptions() *backend.Options {
	o := backend.ApplyOptions()
	return &o
}

func newPostgresStore(dsn string, options *options) *postgresStore {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		panic(err)
	}

	if options.ConfigureDB != nil {
		options.ConfigureDB(db)
	}

	s := &postgresStore{
		db:      db,
		options: options,
	}

	if options.ApplyMigrations {
		if err := s.Migrate(); err != nil {
			panic(err)
		}
	}

	return s
}

type postgresStore struct {
	db      *sql.DB
	options *options
}

var _ backend.Store = (*postgresStore)(nil)

// Migrate applies any pending database migrations.
func (s *postgresStore) Migrate() error {
	dbi, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "postgres", dbi)
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

func (s *postgresStore) Close() error {
	return s.db.Close()
}

func (s *postgresStore) Tracer() trace.Tracer {
	return s.options.TracerProvider.Tracer(backend.TracerName)
}

func (s *postgresStore) Metrics() metrics.Client {
	return s.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "postgres"})
}

func (s *postgresStore) Options() *backend.Options {
	return s.options.Options
}

func (s *postgresStore) GetCheckpoint(ctx context.Context, flowID string) (*core.CheckpointState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT state FROM checkpoints WHERE flow_id = $1", flowID).Scan(&data)
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

func (s *postgresStore) Commit(ctx context.Context, c *backend.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	now := s.options.Clock.Now().UnixNano()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
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
			"INSERT INTO checkpoints (flow_id, state, updated_at) VALUES ($1, $2, $3) ON CONFLICT (flow_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at",
			c.FlowID, data, now,
		); err != nil {
			return fmt.Errorf("storing checkpoint: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE flow_id = $1", c.FlowID); err != nil {
			return fmt.Errorf("deleting checkpoint: %w", err)
		}
	}

	for _, r := range c.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO outbox (id, flow_id, topic, record, created_at) VALUES ($1, $2, $3, $4, $5)",
			uuid.NewString(), c.FlowID, r.Topic, data, now,
		); err != nil {
			return fmt.Errorf("inserting outbox record: %w", err)
		}
	}

	if c.DeadLetter != nil {
		data, err := json.Marshal(c.DeadLetter)
		if err != nil {
			return fmt.Errorf("marshaling dead letter: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO dead_letters (id, flow_id, record, created_at) VALUES ($1, $2, $3, $4)",
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

func (s *postgresStore) GetOutbox(ctx context.Context, limit int) ([]*backend.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, flow_id, record, created_at FROM outbox ORDER BY seq LIMIT $1", limit)
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

func (s *postgresStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM outbox WHERE id = ANY($1::uuid[])", pq.Array(ids)); err != nil {
		return fmt.Errorf("acknowledging outbox entries: %w", err)
	}

	return nil
}

func (s *postgresStore) GetDeadLetters(ctx context.Context) ([]*backend.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, record, created_at FROM dead_letters ORDER BY seq")
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

func (s *postgresStore) GetStats(ctx context.Context) (*backend.Stats, error) {
	stats := &backend.Stats{}

	row := s.db.QueryRowContext(
		ctx,
		"SELECT (SELECT COUNT(*) FROM checkpoints), (SELECT COUNT(*) FROM outbox), (SELECT COUNT(*) FROM dead_letters)",
	)
	if err := row.Scan(&stats.Checkpoints, &stats.PendingOutbox, &stats.DeadLetters); err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}

	return stats, nil
}
