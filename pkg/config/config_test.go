package config_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patmonardo/new-organon-sub002/pkg/config"
	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
)

var envKeys = []string{
	"ORGANON_LOG_LEVEL", "ORGANON_LOG_FORMAT", "ORGANON_TRANSPORT",
	"ORGANON_REDIS_ADDR", "ORGANON_REDIS_PASSWORD", "ORGANON_REDIS_DB", "ORGANON_REDIS_PREFIX",
	"ORGANON_TIMEOUT", "ORGANON_OTLP_ENABLED", "ORGANON_OTLP_ENDPOINT", "ORGANON_OTLP_INSECURE",
	"ORGANON_TAPE_DIR", "ORGANON_RATE_LIMIT", "ORGANON_RATE_BURST",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults verifies that Load() returns an offline demo setup
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, config.TransportDemo, cfg.Transport)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "organon:gds", cfg.RedisPrefix)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.False(t, cfg.OTLPEnabled)
	assert.True(t, cfg.OTLPInsecure)
	assert.Empty(t, cfg.TapeDir)
	assert.Zero(t, cfg.RateLimit)
	assert.Equal(t, 1, cfg.RateBurst)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORGANON_LOG_LEVEL", "DEBUG")
	t.Setenv("ORGANON_LOG_FORMAT", "json")
	t.Setenv("ORGANON_TRANSPORT", "redis")
	t.Setenv("ORGANON_REDIS_ADDR", "redis:6380")
	t.Setenv("ORGANON_REDIS_DB", "2")
	t.Setenv("ORGANON_TIMEOUT", "5s")
	t.Setenv("ORGANON_OTLP_ENABLED", "true")
	t.Setenv("ORGANON_OTLP_INSECURE", "false")
	t.Setenv("ORGANON_TAPE_DIR", "/tmp/tapes")
	t.Setenv("ORGANON_RATE_LIMIT", "2.5")
	t.Setenv("ORGANON_RATE_BURST", "4")

	cfg := config.Load()

	assert.Equal(t, config.TransportRedis, cfg.Transport)
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.OTLPEnabled)
	assert.False(t, cfg.OTLPInsecure)
	assert.Equal(t, "/tmp/tapes", cfg.TapeDir)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, 4, cfg.RateBurst)
	require.NoError(t, cfg.Validate())
}

func TestValidate_Rejects(t *testing.T) {
	for name, cfg := range map[string]config.Config{
		"transport": {Transport: "grpc", LogFormat: "text", LogLevel: "INFO"},
		"format":    {Transport: "demo", LogFormat: "xml", LogLevel: "INFO"},
		"level":     {Transport: "demo", LogFormat: "text", LogLevel: "LOUD"},
		"rate":      {Transport: "demo", LogFormat: "text", LogLevel: "INFO", RateLimit: -1},
	} {
		t.Run(name, func(t *testing.T) {
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_BadRateLimitFailsValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORGANON_RATE_LIMIT", "fast")

	require.ErrorContains(t, config.Load().Validate(), "rate limit")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{LogLevel: "WARN", LogFormat: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("dropped")
	logger.Warn("kept", "run_id", "r1")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"run_id":"r1"`)
}

func TestLoadFixtures(t *testing.T) {
	f, err := config.LoadFixtures(filepath.Join("testdata", "fixtures.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"gds.graph_store_catalog.list_graphs", "gds.pregel.rank"}, f.ModelIDs())
	rank, ok := f.Outputs["gds.pregel.rank"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"e1": 1, "e2": 0.5}, rank["scores"])

	require.Len(t, f.Graphs, 2)
	assert.Equal(t, "citations", f.Graphs[1].Name)
	assert.Equal(t, int64(40), f.Graphs[1].RelationshipCount)

	port := kernel.NewDemoPort(f.Outputs)
	res := port.Run(context.Background(), kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.pregel.rank"}})
	assert.True(t, res.OK)
}

func TestLoadFixtures_Errors(t *testing.T) {
	_, err := config.LoadFixtures(filepath.Join("testdata", "missing.yaml"))
	require.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("graphs:\n  - nodeCount: 1\n"), 0600))
	_, err = config.LoadFixtures(bad)
	require.ErrorContains(t, err, "no name")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("{}\n"), 0600))
	f, err := config.LoadFixtures(empty)
	require.NoError(t, err)
	assert.Empty(t, f.Outputs)
}

func TestLoadRoutesAndBuildRouter(t *testing.T) {
	specs, err := config.LoadRoutes(filepath.Join("testdata", "routes.yaml"))
	require.NoError(t, err)
	require.Equal(t, []config.RouteSpec{
		{Prefix: "gds.pregel.", Constraint: ">= 1, < 2", Target: config.TargetDemo},
		{Prefix: "gds.", Target: config.TargetWire},
	}, specs)

	demo := kernel.PortFunc(func(context.Context, kernel.RunRequest) kernel.RunResult { return kernel.OK("demo") })
	wire := kernel.PortFunc(func(context.Context, kernel.RunRequest) kernel.RunResult { return kernel.OK("wire") })
	router, err := config.BuildRouter(specs, map[string]kernel.Port{config.TargetDemo: demo, config.TargetWire: wire})
	require.NoError(t, err)

	ctx := context.Background()
	got := router.Run(ctx, kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.pregel.rank", Version: "1.2.0"}})
	assert.Equal(t, "demo", got.Output)
	got = router.Run(ctx, kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.pregel.rank", Version: "2.0.0"}})
	assert.Equal(t, "wire", got.Output)
	got = router.Run(ctx, kernel.RunRequest{Model: kernel.ModelRef{ID: "other.model"}})
	assert.Equal(t, kernel.CodeUnknownModel, got.Code())

	_, err = config.BuildRouter(specs, map[string]kernel.Port{config.TargetDemo: demo})
	require.ErrorContains(t, err, "unknown target")
}

func TestLoadRoutes_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - target: demo\n"), 0600))
	_, err := config.LoadRoutes(path)
	require.ErrorContains(t, err, "no prefix")

	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - prefix: gds.\n"), 0600))
	_, err = config.LoadRoutes(path)
	require.ErrorContains(t, err, "no target")

	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - prefix: gds.\n    target: demo\n    constraint: \"not a range\"\n"), 0600))
	specs, err := config.LoadRoutes(path)
	require.NoError(t, err)
	_, err = config.BuildRouter(specs, map[string]kernel.Port{"demo": kernel.NewDemoPort(nil)})
	require.Error(t, err)
}
