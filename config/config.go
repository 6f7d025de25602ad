package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration snapshot used for one processing pass.
type Config struct {
	// MaxRetryAttempts is the number of transient failures tolerated before a flow is
	// failed.
	MaxRetryAttempts int

	// RetryBackoff is the delay before the first retry of a transient failure. Each
	// further consecutive failure doubles it, up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// CleanupWindow is how long after a flow terminates the mapper keeps session state.
	CleanupWindow time.Duration

	// FiberTimeout bounds a single run of the flow fiber.
	FiberTimeout time.Duration

	// MaxSavedOutputs bounds the replay history kept on a checkpoint.
	MaxSavedOutputs int

	// ExternalEventResendWindow is the time after which an unanswered external event
	// request is sent again.
	ExternalEventResendWindow time.Duration

	// FiberCacheSize and FiberCacheExpiry bound the cache of live fibers.
	FiberCacheSize   int
	FiberCacheExpiry time.Duration
}

// DefaultConfig holds the fallback values used when neither a file nor an option sets
// a value.
var DefaultConfig = Config{
	MaxRetryAttempts:          5,
	RetryBackoff:              time.Second,
	MaxRetryBackoff:           time.Minute,
	CleanupWindow:             10 * time.Minute,
	FiberTimeout:              time.Minute,
	MaxSavedOutputs:           10,
	ExternalEventResendWindow: 5 * time.Minute,
	FiberCacheSize:            1000,
	FiberCacheExpiry:          10 * time.Minute,
}

type Option func(*Config)

func WithMaxRetryAttempts(n int) Option {
	return func(c *Config) {
		c.MaxRetryAttempts = n
	}
}

func WithRetryBackoff(initial, max time.Duration) Option {
	return func(c *Config) {
		c.RetryBackoff = initial
		c.MaxRetryBackoff = max
	}
}

func WithCleanupWindow(d time.Duration) Option {
	return func(c *Config) {
		c.CleanupWindow = d
	}
}

func WithFiberTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.FiberTimeout = d
	}
}

func WithMaxSavedOutputs(n int) Option {
	return func(c *Config) {
		c.MaxSavedOutputs = n
	}
}

func WithExternalEventResendWindow(d time.Duration) Option {
	return func(c *Config) {
		c.ExternalEventResendWindow = d
	}
}

func WithFiberCache(size int, expiry time.Duration) Option {
	return func(c *Config) {
		c.FiberCacheSize = size
		c.FiberCacheExpiry = expiry
	}
}

func ApplyOptions(opts ...Option) Config {
	c := DefaultConfig

	for _, opt := range opts {
		opt(&c)
	}

	return c
}

// Load reads a YAML file on top of DefaultConfig and applies opts afterwards.
func Load(path string, opts ...Option) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(b, opts...)
}

// Parse decodes YAML on top of DefaultConfig and applies opts afterwards.
func Parse(b []byte, opts ...Option) (Config, error) {
	c := DefaultConfig

	var f fileConfig
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := f.apply(&c); err != nil {
		return Config{}, err
	}

	for _, opt := range opts {
		opt(&c)
	}

	return c, c.Validate()
}

var ErrInvalidConfig = errors.New("invalid configuration")

func (c Config) Validate() error {
	switch {
	case c.MaxRetryAttempts < 0:
		return fmt.Errorf("%w: maxRetryAttempts must not be negative", ErrInvalidConfig)
	case c.RetryBackoff <= 0:
		return fmt.Errorf("%w: retryBackoff must be positive", ErrInvalidConfig)
	case c.MaxRetryBackoff < c.RetryBackoff:
		return fmt.Errorf("%w: maxRetryBackoff must not be below retryBackoff", ErrInvalidConfig)
	case c.CleanupWindow < 0:
		return fmt.Errorf("%w: cleanupWindow must not be negative", ErrInvalidConfig)
	case c.FiberTimeout <= 0:
		return fmt.Errorf("%w: fiberTimeout must be positive", ErrInvalidConfig)
	case c.MaxSavedOutputs < 0:
		return fmt.Errorf("%w: maxSavedOutputs must not be negative", ErrInvalidConfig)
	case c.ExternalEventResendWindow < 0:
		return fmt.Errorf("%w: externalEventResendWindow must not be negative", ErrInvalidConfig)
	}

	return nil
}

// WithDefaults returns c with every value that would fail Validate replaced by its
// DefaultConfig value.
func (c Config) WithDefaults() Config {
	d := DefaultConfig

	if c.MaxRetryAttempts < 0 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = max(d.MaxRetryBackoff, c.RetryBackoff)
	}
	if c.CleanupWindow < 0 {
		c.CleanupWindow = d.CleanupWindow
	}
	if c.FiberTimeout <= 0 {
		c.FiberTimeout = d.FiberTimeout
	}
	if c.MaxSavedOutputs < 0 {
		c.MaxSavedOutputs = d.MaxSavedOutputs
	}
	if c.ExternalEventResendWindow < 0 {
		c.ExternalEventResendWindow = d.ExternalEventResendWindow
	}

	return c
}

// fileConfig mirrors Config with durations as strings, so files can use "30s" or "10m".
type fileConfig struct {
	MaxRetryAttempts          *int   `yaml:"maxRetryAttempts"`
	RetryBackoff              string `yaml:"retryBackoff"`
	MaxRetryBackoff           string `yaml:"maxRetryBackoff"`
	CleanupWindow             string `yaml:"cleanupWindow"`
	FiberTimeout              string `yaml:"fiberTimeout"`
	MaxSavedOutputs           *int   `yaml:"maxSavedOutputs"`
	ExternalEventResendWindow string `yaml:"externalEventResendWindow"`
	FiberCacheSize            *int   `yaml:"fiberCacheSize"`
	FiberCacheExpiry          string `yaml:"fiberCacheExpiry"`
}

func (f *fileConfig) apply(c *Config) error {
	if f.MaxRetryAttempts != nil {
		c.MaxRetryAttempts = *f.MaxRetryAttempts
	}
	if f.MaxSavedOutputs != nil {
		c.MaxSavedOutputs = *f.MaxSavedOutputs
	}
	if f.FiberCacheSize != nil {
		c.FiberCacheSize = *f.FiberCacheSize
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"retryBackoff", f.RetryBackoff, &c.RetryBackoff},
		{"maxRetryBackoff", f.MaxRetryBackoff, &c.MaxRetryBackoff},
		{"cleanupWindow", f.CleanupWindow, &c.CleanupWindow},
		{"fiberTimeout", f.FiberTimeout, &c.FiberTimeout},
		{"externalEventResendWindow", f.ExternalEventResendWindow, &c.ExternalEventResendWindow},
		{"fiberCacheExpiry", f.FiberCacheExpiry, &c.FiberCacheExpiry},
	}

	for _, d := range durations {
		if d.value == "" {
			continue
		}

		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return nil
}
