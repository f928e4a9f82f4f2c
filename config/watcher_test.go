package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  cooldownSeconds: 5\n"), 0o600))

	got := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { got <- c }, func(o *WatchOptions) {
		o.Debounce = 10 * time.Millisecond
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("agent:\n  cooldownSeconds: 42\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-got:
			if cfg.Agent.CooldownSeconds == 42 {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatcher_SkipsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  enabled: true\n"), 0o600))

	got := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { got <- c }, func(o *WatchOptions) {
		o.Debounce = 10 * time.Millisecond
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("agent: [broken\n"), 0o600))

	select {
	case <-got:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
