package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stream-rpc/executor"
	"stream-rpc/handler"
)

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := loadConfig([]string{"--listen-address", "127.0.0.1:9100", "--workers", "8", "--rate-limit", "50", " "})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9100", cfg.Server.ListenAddress)
	require.Equal(t, int64(8), cfg.Server.Workers)
	require.Equal(t, 50.0, cfg.Server.RateLimit)
	require.Equal(t, 100, cfg.Server.RateBurst)
	require.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	require.False(t, cfg.Server.TLS.Enabled)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
listen-address = "127.0.0.1:9200"
max-payload-length = 1024
shutdown-timeout = "3s"
log-level = "warn"
`), 0600))
	cfg, err := loadConfig([]string{"--config", path})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9200", cfg.Server.ListenAddress)
	require.Equal(t, 1024, cfg.Server.MaxPayloadLength)
	require.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, "warn", cfg.Log.Level)
	require.NoError(t, (&cfg.Log).Configure())
	cfg.Log.Level = "info"
	require.NoError(t, cfg.Log.Configure())
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := loadConfig([]string{"--tls-enabled"})
	require.Error(t, err)
}

func TestDemoHandlers(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, registerDemoHandlers(reg))
	require.Equal(t, []string{"add", "echo", "fail", "sleep"}, reg.Names())

	e := executor.New(2, 0)
	invoke := func(name string, args []any, kw map[string]any) (any, error) {
		h, ok := reg.Lookup(name)
		require.True(t, ok)
		return e.Invoke(context.Background(), h, handler.NewArgs(args, kw))
	}

	res, err := invoke("add", []any{float64(2), float64(3), float64(4)}, nil)
	require.NoError(t, err)
	require.Equal(t, float64(9), res)

	res, err = invoke("sleep", []any{0.01, "woke"}, nil)
	require.NoError(t, err)
	require.Equal(t, "woke", res)

	_, err = invoke("fail", nil, nil)
	require.EqualError(t, err, "bad")
	_, err = invoke("fail", nil, map[string]any{"msg": "custom"})
	require.EqualError(t, err, "custom")

	res, err = invoke("echo", []any{"x"}, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"args": []any{"x"}, "kw": map[string]any{"k": "v"}}, res)
}
