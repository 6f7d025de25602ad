package redis

import (
	"github.com/corda/corda-runtime-os-sub030/backend"
)

type RedisOptions struct {
	backend.Options

	// KeyPrefix is prepended to every key, allowing several stores to share one database.
	KeyPrefix string
}

type RedisBackendOption func(*RedisOptions)

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

func WithKeyPrefix(keyPrefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = keyPrefix
	}
}
