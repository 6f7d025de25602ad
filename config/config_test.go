package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_ApplyOptions(t *testing.T) {
	c := ApplyOptions(WithMaxRetryAttempts(2), WithFiberTimeout(time.Second))

	require.Equal(t, 2, c.MaxRetryAttempts)
	require.Equal(t, time.Second, c.FiberTimeout)
	require.Equal(t, DefaultConfig.CleanupWindow, c.CleanupWindow)
}

func Test_Parse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		opts    []Option
		want    func(t *testing.T, c Config)
		wantErr bool
	}{
		{
			name: "Overrides defaults",
			yaml: "maxRetryAttempts: 3\ncleanupWindow: 30s\nfiberTimeout: 2m\n",
			want: func(t *testing.T, c Config) {
				require.Equal(t, 3, c.MaxRetryAttempts)
				require.Equal(t, 30*time.Second, c.CleanupWindow)
				require.Equal(t, 2*time.Minute, c.FiberTimeout)
				require.Equal(t, DefaultConfig.MaxSavedOutputs, c.MaxSavedOutputs)
			},
		},
		{
			name: "Zero retries is allowed",
			yaml: "maxRetryAttempts: 0\n",
			want: func(t *testing.T, c Config) {
				require.Equal(t, 0, c.MaxRetryAttempts)
			},
		},
		{
			name: "Options win over file",
			yaml: "maxRetryAttempts: 3\n",
			opts: []Option{WithMaxRetryAttempts(7)},
			want: func(t *testing.T, c Config) {
				require.Equal(t, 7, c.MaxRetryAttempts)
			},
		},
		{
			name:    "Invalid duration",
			yaml:    "cleanupWindow: soon\n",
			wantErr: true,
		},
		{
			name:    "Negative retries",
			yaml:    "maxRetryAttempts: -1\n",
			wantErr: true,
		},
		{
			name:    "Zero fiber timeout",
			yaml:    "fiberTimeout: 0s\n",
			wantErr: true,
		},
		{
			name: "Retry backoff",
			yaml: "retryBackoff: 2s\nmaxRetryBackoff: 30s\n",
			want: func(t *testing.T, c Config) {
				require.Equal(t, 2*time.Second, c.RetryBackoff)
				require.Equal(t, 30*time.Second, c.MaxRetryBackoff)
			},
		},
		{
			name:    "Retry backoff above maximum",
			yaml:    "retryBackoff: 2m\nmaxRetryBackoff: 1m\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.yaml), tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			tt.want(t, c)
		})
	}
}

func Test_WithDefaults(t *testing.T) {
	c := ApplyOptions(
		WithFiberTimeout(0),
		WithRetryBackoff(-time.Second, 0),
		WithMaxRetryAttempts(3),
		WithCleanupWindow(-time.Minute),
	)
	require.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c = c.WithDefaults()
	require.NoError(t, c.Validate())
	require.Equal(t, DefaultConfig.FiberTimeout, c.FiberTimeout)
	require.Equal(t, DefaultConfig.RetryBackoff, c.RetryBackoff)
	require.Equal(t, DefaultConfig.MaxRetryBackoff, c.MaxRetryBackoff)
	require.Equal(t, DefaultConfig.CleanupWindow, c.CleanupWindow)
	require.Equal(t, 3, c.MaxRetryAttempts)

	valid := ApplyOptions(WithFiberTimeout(time.Second))
	require.Equal(t, valid, valid.WithDefaults())
}

func Test_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxSavedOutputs: 4\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, c.MaxSavedOutputs)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
