package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/patmonardo/new-organon-sub002/pkg/config"
	"github.com/patmonardo/new-organon-sub002/pkg/gdslink"
	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
	"github.com/patmonardo/new-organon-sub002/pkg/observability"
	"github.com/patmonardo/new-organon-sub002/pkg/tape"
)

// stack is the process wiring shared by the subcommands: logger, telemetry
// and the invoke function the wire port sends through.
type stack struct {
	cfg      *config.Config
	logger   *slog.Logger
	obs      *observability.Provider
	invoke   gdslink.InvokeFunc
	recorder *tape.Recorder
	replayer *tape.Replayer
	closers  []func() error
}

func defaultFixtures() *config.Fixtures {
	return &config.Fixtures{
		Outputs: map[string]any{
			"gds.pregel.rank": map[string]any{"scores": map[string]any{"e1": 1}},
		},
		Graphs: []gdslink.GraphEntry{{Name: "social", NodeCount: 3, RelationshipCount: 2}},
	}
}

func loadFixtures(path string) (*config.Fixtures, error) {
	if path == "" {
		return defaultFixtures(), nil
	}
	return config.LoadFixtures(path)
}

// openStack builds the wiring described by cfg. replayDir, when set, answers
// every wire call from a saved tape instead of a transport.
func openStack(ctx context.Context, cfg *config.Config, fixtures *config.Fixtures, replayDir string, stderr io.Writer) (*stack, error) {
	s := &stack{cfg: cfg, logger: cfg.NewLogger(stderr)}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEnabled
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Insecure = cfg.OTLPInsecure
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	slo := observability.NewSLOTracker(observability.Objective{
		Operation:   kernel.ActionRun,
		LatencyP99:  cfg.Timeout,
		SuccessRate: 0.99,
		Window:      time.Hour,
	})
	s.obs = obs.WithLogger(s.logger).WithSLOTracker(slo)
	s.closers = append(s.closers, func() error { return obs.Shutdown(context.Background()) })

	switch {
	case replayDir != "":
		replayer, err := tape.Load(replayDir)
		if err != nil {
			return nil, err
		}
		s.replayer = replayer
		s.invoke = replayer.Invoke
	case cfg.Transport == config.TransportRedis:
		t := gdslink.DialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix).
			WithTimeout(cfg.Timeout).
			WithLogger(s.logger)
		s.invoke = t.Invoke
		s.closers = append(s.closers, t.Close)
	default:
		s.invoke = gdslink.NewMemoryKernel(fixtures.Graphs...).Invoke
	}

	if cfg.TapeDir != "" && replayDir == "" {
		s.recorder = tape.NewRecorder(fmt.Sprintf("organon-%d", time.Now().UnixNano()))
		s.invoke = s.recorder.Wrap(s.invoke)
	}
	return s, nil
}

// wirePort is the GDS wire port over the stack's invoke function, guarded
// by retries for transport failures, the configured rate limit and the
// configured timeout.
func (s *stack) wirePort() kernel.Port {
	var port kernel.Port = gdslink.NewPort(s.invoke).WithLogger(s.logger)
	if s.cfg.Transport == config.TransportRedis {
		port = kernel.Retry(port, kernel.DefaultRetryPolicy())
	}
	if s.cfg.RateLimit > 0 {
		port = kernel.RateLimited(port, kernel.NewLimiter(s.cfg.RateLimit, s.cfg.RateBurst))
	}
	return kernel.Recover(kernel.WithTimeout(port, s.cfg.Timeout))
}

// printSLO writes one line per objective the stack tracks.
func (s *stack) printSLO(w io.Writer) {
	for _, r := range s.obs.SLOTracker().Reports() {
		_, _ = fmt.Fprintf(w, "slo %s\n", r)
	}
}

// Close saves the tape when recording, warns about unreplayed tape entries
// and releases every resource.
func (s *stack) Close() error {
	var first error
	if s.recorder != nil {
		if err := os.MkdirAll(s.cfg.TapeDir, 0o750); err != nil {
			first = fmt.Errorf("tape dir: %w", err)
		} else if err := s.recorder.Save(s.cfg.TapeDir); err != nil {
			first = err
		} else {
			s.logger.Info("tape saved", "dir", s.cfg.TapeDir, "entries", s.recorder.Count())
		}
	}
	if s.replayer != nil {
		if left := s.replayer.Remaining(); left > 0 {
			s.logger.Warn("tape entries not replayed", "remaining", left, "entries", s.replayer.Count())
		}
	}
	for _, r := range s.obs.SLOTracker().Reports() {
		s.logger.Info("slo report", "operation", r.Operation, "runs", r.Runs,
			"success_rate", r.SuccessRate, "p99", r.P99, "failures", r.Failures, "in_compliance", r.InCompliance)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func loadConfig(stderr io.Writer) (*config.Config, bool) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	return cfg, true
}
