package mysql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	mmysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

func NewMysqlStore(host string, port int, user, password, database string, opts ...option) *mysqlStore {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = database

	return newMysqlStore(cfg, opts...)
}

// NewMysqlStoreFromDSN creates a store from a go-sql-driver DSN, e.g. user:pass@tcp(host:3306)/flows.
func NewMysqlStoreFromDSN(dsn string, opts ...option) (*mysqlStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	return newMysqlStore(cfg, opts...), nil
}

func newMysqlStore(cfg *mysql.Config, opts ...option) *mysqlStore {
	o := backend.ApplyOptions()
	options := &options{
		Options:         &o,
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	cfg.ParseTime = true
	cfg.InterpolateParams = true
	if options.DialTimeout > 0 {
		cfg.Timeout = options.DialTimeout
	}
	dsn := cfg.FormatDSN()

	// Migration files hold more than one statement each.
	schemaCfg := cfg.Clone()
	schemaCfg.MultiStatements = true

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}

	if options.ConfigureDB != nil {
		options.ConfigureDB(db)
	}

	s := &mysqlStore{
		dsn:       dsn,
		schemaDsn: schemaCfg.FormatDSN(),
		db:        db,
		options:   options,
	}

	if options.ApplyMigrations {
		if err := s.Migrate(); err != nil {
			panic(err)
		}
	}

	return s
}

type mysqlStore struct {
	dsn       string
	schemaDsn string
	db        *sql.DB
	options   *options
}

var _ backend.Store = (*mysqlStore)(nil)

// Migrate applies any pending database migrations.
func (s *mysqlStore) Migrate() error {
	db, err := sql.Open("mysql", s.schemaDsn)
	if err != nil {
		return fmt.Errorf("opening schema database: %w", err)
	}

	dbi, err := mmysql.WithInstance(db, &mmysql.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "mysql", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("closing schema database: %w", err)
	}

	return nil
}

func (s *mysqlStore) Close() error {
	return s.db.Close()
}

func (s *mysqlStore) Tracer() trace.Tracer {
	return s.options.TracerProvider.Tracer(backend.TracerName)
}

func (s *mysqlStore) Metrics() metrics.Client {
	return s.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "mysql"})
}

func (s *mysqlStore) Options() *backend.Options {
	return s.options.Options
}

func (s *mysqlStore) GetCheckpoint(ctx context.Context, flowID string) (*core.CheckpointState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT `state` FROM `checkpoints` WHERE `flow_id` = ?", flowID).Scan(&data)
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

func (s *mysqlStore) Commit(ctx context.Context, c *backend.Commit) error {
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
			"INSERT INTO `checkpoints` (`flow_id`, `state`, `updated_at`) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE `state` = VALUES(`state`), `updated_at` = VALUES(`updated_at`)",
			c.FlowID, data, now,
		); err != nil {
			return fmt.Errorf("storing checkpoint: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, "DELETE FROM `checkpoints` WHERE `flow_id` = ?", c.FlowID); err != nil {
			return fmt.Errorf("deleting checkpoint: %w", err)
		}
	}

	if len(c.Records) > 0 {
		query := "INSERT INTO `outbox` (`id`, `flow_id`, `topic`, `record`, `created_at`) VALUES (?, ?, ?, ?, ?)" +
			strings.Repeat(", (?, ?, ?, ?, ?)", len(c.Records)-1)

		args := make([]interface{}, 0, len(c.Records)*5)
		for _, r := range c.Records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshaling record: %w", err)
			}

			args = append(args, uuid.NewString(), c.FlowID, r.Topic, data, now)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting outbox records: %w", err)
		}
	}

	if c.DeadLetter != nil {
		data, err := json.Marshal(c.DeadLetter)
		if err != nil {
			return fmt.Errorf("marshaling dead letter: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO `dead_letters` (`id`, `flow_id`, `record`, `created_at`) VALUES (?, ?, ?, ?)",
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

func (s *mysqlStore) GetOutbox(ctx context.Context, limit int) ([]*backend.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT `id`, `flow_id`, `record`, `created_at` FROM `outbox` ORDER BY `seq` LIMIT ?", limit)
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

func (s *mysqlStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	query := "DELETE FROM `outbox` WHERE `id` IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("acknowledging outbox entries: %w", err)
	}

	return nil
}

func (s *mysqlStore) GetDeadLetters(ctx context.Context) ([]*backend.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT `id`, `record`, `created_at` FROM `dead_letters` ORDER BY `seq`")
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

func (s *mysqlStore) GetStats(ctx context.Context) (*backend.Stats, error) {
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
