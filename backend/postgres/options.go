package postgres

import (
	"database/sql"

	"github.com/corda/corda-runtime-os-sub030/backend"
)

type options struct {
	*backend.Options

	// ApplyMigrations creates or upgrades the checkpoint and outbox tables on startup.
	ApplyMigrations bool

	// SSLMode is the sslmode of connections opened by NewPostgresStore. Defaults to "disable".
	SSLMode string

	// ApplicationName is reported to the server and shows up in pg_stat_activity.
	ApplicationName string

	// ConfigureDB is called with the pool before the store uses it.
	ConfigureDB func(db *sql.DB)
}

type option func(*options)

func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

// WithSSLMode sets the sslmode, one of "disable", "require", "verify-ca" or "verify-full".
func WithSSLMode(sslmode string) option {
	return func(o *options) {
		o.SSLMode = sslmode
	}
}

func WithApplicationName(name string) option {
	return func(o *options) {
		o.ApplicationName = name
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
