package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/patmonardo/new-organon-sub002/pkg/bus"
	"github.com/patmonardo/new-organon-sub002/pkg/config"
	"github.com/patmonardo/new-organon-sub002/pkg/correlate"
	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
	"github.com/patmonardo/new-organon-sub002/pkg/taw"
	"github.com/patmonardo/new-organon-sub002/pkg/trace"
	"github.com/patmonardo/new-organon-sub002/pkg/turn"
	"github.com/patmonardo/new-organon-sub002/pkg/unity"
)

// plannerText stands in for a planner's reply to the demo prompt.
const plannerText = "1. Identify kernel run\n2. Execute kernel.run with graph input\n3. Record result"

type demoOutcome struct {
	Turn  turn.KernelTurn
	Unity *unity.OrganicUnity
	Next  turn.LoopTurn
	Log   *trace.Log
}

func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var fixturesPath, routesPath, filter string
	cmd.StringVar(&fixturesPath, "fixtures", "", "YAML file of canned kernel outputs")
	cmd.StringVar(&routesPath, "routes", "", "YAML file of router entries (targets: demo, wire)")
	cmd.StringVar(&filter, "filter", "", "CEL expression selecting the bus envelopes to print, e.g. kind.startsWith(\"taw.\")")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var subOpts []bus.Option
	if filter != "" {
		opt, err := bus.WithExpression(filter)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		subOpts = append(subOpts, opt)
	}

	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}
	fixtures, err := loadFixtures(fixturesPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	st, err := openStack(ctx, cfg, fixtures, "", stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	var port kernel.Port = kernel.NewDemoPort(fixtures.Outputs)
	if routesPath != "" {
		specs, err := config.LoadRoutes(routesPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		router, err := config.BuildRouter(specs, map[string]kernel.Port{
			config.TargetDemo: port,
			config.TargetWire: st.wirePort(),
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		port = router
	}

	b := bus.New().WithLogger(st.logger)
	b.Subscribe(func(e bus.Envelope) {
		_, _ = fmt.Fprintf(stdout, "[bus] %s %s %s %s\n", e.Kind, e.ID, e.CorrelationID, e.Source)
	}, subOpts...)

	out, err := runDemo(ctx, st, kernel.Recover(port), b, time.Now)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(out.Turn, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	digest, _ := out.Unity.Digest()
	_, _ = fmt.Fprintf(stdout, "\nkernel turn:\n%s\n", data)
	_, _ = fmt.Fprintf(stdout, "run %s digest %s\n", out.Unity.RunID, digest)
	_, _ = fmt.Fprintf(stdout, "trace head %s (%d events)\n", out.Log.Head(), out.Log.Len())
	_, _ = fmt.Fprintf(stdout, "next context %s carries %d facts\n", out.Next.Context.ID, len(out.Next.Context.Facts))
	st.printSLO(stdout)
	return 0
}

// runDemo drives one full turn: context, intent, plan, act, kernel, result
// and trace, then re-absorbs the trace into the next context.
func runDemo(ctx context.Context, st *stack, port kernel.Port, b *bus.Bus, now func() time.Time) (*demoOutcome, error) {
	doc := taw.ContextDocument{
		ID:        "ctx-demo-1",
		Timestamp: now().UTC().Format(time.RFC3339Nano),
		Facts:     []any{},
		Schema:    taw.SchemaRef{ID: "trace:demo"},
		Goal: &taw.Goal{
			ID:          "goal-demo",
			Type:        "kernel.run",
			Description: "Rank the social graph and record the result",
		},
	}

	intent, err := taw.IntentFromContext(doc, taw.IntentOptions{Base: taw.Base{Source: "demo"}})
	if err != nil {
		return nil, err
	}
	prompt := taw.PlanPromptText("Plan the steps to: "+doc.Goal.Description, taw.PromptOptions{MaxSteps: 5})
	st.logger.Debug("plan prompt", "prompt", prompt)

	intentEnv := bus.PublishTaw(b, intent)
	corr := intentEnv.CorrelationID
	if corr == "" {
		corr = intentEnv.ID
	}

	plan, err := taw.PlanFromText(plannerText, taw.PlanOptions{
		GoalID: doc.Goal.ID,
		Base:   taw.Base{CorrelationID: corr, Source: "planner"},
	})
	if err != nil {
		return nil, err
	}
	bus.PublishTaw(b, plan)
	stepID := plan.Payload.Steps[1].ID

	req := kernel.RunRequest{
		Model:  kernel.ModelRef{ID: "gds.pregel.rank", Kind: "gds", Version: "1"},
		Input:  map[string]any{"graph": "social", "seed": 42},
		Params: map[string]any{"iterations": 10},
	}
	log := trace.NewLog()
	u, err := unity.New(port).
		WithLogger(st.logger).
		WithObservability(st.obs).
		WithBus(b).
		WithTraceLog(log).
		Run(ctx, req, correlate.Options{
			GoalID:        doc.Goal.ID,
			StepID:        stepID,
			CorrelationID: corr,
			Source:        "demo",
			Meta:          trace.Meta{"loopId": "loop-demo"},
		})
	if err != nil {
		return nil, err
	}

	loop := turn.LoopTurn{
		Meta:       trace.Meta{"loopId": "loop-demo", "stepId": stepID},
		Context:    doc,
		Intent:     intent,
		Plan:       &plan,
		Act:        &u.Taw.Act,
		Result:     &u.Taw.Result,
		TraceDelta: u.Trace,
	}
	kt, err := turn.NewKernelTurn(loop, u.Result)
	if err != nil {
		return nil, fmt.Errorf("close turn: %w (%s)", err, u.Result.Message())
	}

	next := turn.Next(loop, intent, now())
	next.Context.ID = "ctx-demo-2"
	return &demoOutcome{Turn: kt, Unity: u, Next: next, Log: log}, nil
}
