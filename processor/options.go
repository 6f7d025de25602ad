package processor

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/corda/corda-runtime-os-sub030/config"
	mi "github.com/corda/corda-runtime-os-sub030/internal/metrics"
	"github.com/corda/corda-runtime-os-sub030/metrics"
	"github.com/corda/corda-runtime-os-sub030/session"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	Clock clock.Clock

	// Config is the configuration snapshot every event is processed with.
	Config config.Config

	// Sessions is the session manager. Defaults to session.NewManager().
	Sessions session.Manager
}

var DefaultOptions = Options{
	Logger:         slog.Default(),
	Metrics:        mi.NewNoopMetricsClient(),
	TracerProvider: noop.NewTracerProvider(),
	Clock:          clock.New(),
	Config:         config.DefaultConfig,
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) Option {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithClock(clock clock.Clock) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

func WithConfig(cfg config.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

func WithSessionManager(sessions session.Manager) Option {
	return func(o *Options) {
		o.Sessions = sessions
	}
}

func ApplyOptions(opts ...Option) Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if options.Sessions == nil {
		options.Sessions = session.NewManager()
	}

	if err := options.Config.Validate(); err != nil {
		options.Logger.Warn("invalid flow configuration, falling back to defaults for invalid values", "error", err)
		options.Config = options.Config.WithDefaults()
	}

	return options
}
