package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/patmonardo/new-organon-sub002/pkg/correlate"
	"github.com/patmonardo/new-organon-sub002/pkg/gdslink"
	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
	"github.com/patmonardo/new-organon-sub002/pkg/unity"
)

func runCallCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("call", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		modelID   string
		version   string
		input     string
		params    string
		replayDir string
		fixtures  string
	)
	cmd.StringVar(&modelID, "model", "", "Operation id gds.<facade>.<op> (REQUIRED)")
	cmd.StringVar(&version, "version", "", "Model version")
	cmd.StringVar(&input, "input", "{}", "Call input as a JSON object")
	cmd.StringVar(&params, "params", "", "Run params as a JSON object")
	cmd.StringVar(&replayDir, "replay", "", "Answer from a saved tape directory instead of the transport")
	cmd.StringVar(&fixtures, "fixtures", "", "YAML fixtures for the in-memory kernel (demo transport)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if modelID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --model is required")
		return 2
	}

	req := kernel.RunRequest{Model: kernel.ModelRef{ID: modelID, Kind: "gds", Version: version}}
	var in any
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --input is not JSON: %v\n", err)
		return 2
	}
	req.Input = in
	if params != "" {
		if err := json.Unmarshal([]byte(params), &req.Params); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --params is not a JSON object: %v\n", err)
			return 2
		}
	}

	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}
	fx, err := loadFixtures(fixtures)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	st, err := openStack(ctx, cfg, fx, replayDir, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	u, err := unity.New(st.wirePort()).
		WithLogger(st.logger).
		WithObservability(st.obs).
		Run(ctx, req, correlate.Options{GoalID: "cli", Source: "organon-cli"})
	if cerr := st.Close(); cerr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", cerr)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, err := json.MarshalIndent(u.Result, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	if !u.Result.OK {
		return 1
	}
	return 0
}

func runServeEchoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve-echo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var fixtures string
	cmd.StringVar(&fixtures, "fixtures", "", "YAML fixtures whose graphs seed the kernel catalog")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}
	fx, err := loadFixtures(fixtures)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger := cfg.NewLogger(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := gdslink.DialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix).WithLogger(logger)
	defer func() { _ = transport.Close() }()
	if err := transport.Ping(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: redis %s unreachable: %v\n", cfg.RedisAddr, err)
		return 1
	}

	kern := gdslink.NewMemoryKernel(fx.Graphs...)
	_, _ = fmt.Fprintf(stdout, "serving %s on %s (%d graphs)\n", transport.RequestKey(), cfg.RedisAddr, len(kern.Graphs()))
	if err := transport.Serve(ctx, kern.Invoke); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
