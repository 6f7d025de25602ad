package mysql

import (
	"database/sql"
	"time"

	"github.com/corda/corda-runtime-os-sub030/backend"
)

type options struct {
	*backend.Options

	// ApplyMigrations creates or upgrades the checkpoint and outbox tables on startup.
	ApplyMigrations bool

	// DialTimeout bounds connecting to the server. Zero keeps the driver default.
	DialTimeout time.Duration

	// ConfigureDB is called with the pool before the store uses it.
	ConfigureDB func(db *sql.DB)
}

type option func(*options)

func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

func WithDialTimeout(d time.Duration) option {
	return func(o *options) {
		o.DialTimeout = d
	}
}

// WithDBOptions configures the connection pool, e.g. its size or connection lifetime.
func WithDBOptions(f func(db *sql.DB)) option {
	return func(o *options) {
		o.ConfigureDB = f
	}
}

func WithBackendOptions(opts ...backend.BackendOption) option {
	return func(o *options) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}
