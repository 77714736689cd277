package taw

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoGoal is returned when an intent is requested without any goal.
	ErrNoGoal = errors.New("taw.intent: no goal provided and context.goal is missing")
	// ErrNoSteps is returned when a plan would have no non-blank step.
	ErrNoSteps = errors.New("taw.plan: no steps provided")
)

// IntentOptions configures IntentFromContext. Goal overrides the context goal.
type IntentOptions struct {
	Goal        *Goal
	Constraints []string
	Base
}

// IntentFromContext builds the intent that opens a loop over doc.
func IntentFromContext(doc ContextDocument, opts IntentOptions) (IntentEvent, error) {
	goal := opts.Goal
	if goal == nil {
		goal = doc.Goal
	}
	if goal == nil {
		return IntentEvent{}, ErrNoGoal
	}

	var constraints []string
	if opts.Constraints != nil {
		constraints = append([]string{}, opts.Constraints...)
	}
	ev := IntentEvent{
		Kind:    KindIntent,
		Payload: IntentPayload{Goal: *goal, Constraints: constraints},
		Base:    opts.Base.clone(),
	}
	return ev, ev.Validate()
}

// PlanOptions configures the plan builders.
type PlanOptions struct {
	GoalID string
	// StepIDPrefix prefixes generated step ids. Defaults to "s".
	StepIDPrefix string
	Base
}

// StepInput is a candidate step. A blank ID is generated from the step's
// position in the input, so dropped blanks leave gaps in the numbering.
type StepInput struct {
	ID          string
	Description string
}

// Steps wraps plain descriptions as step inputs.
func Steps(descriptions ...string) []StepInput {
	out := make([]StepInput, len(descriptions))
	for i, d := range descriptions {
		out[i] = StepInput{Description: d}
	}
	return out
}

// StepsToPlan normalizes steps into a plan event. Descriptions and ids are
// trimmed; steps with a blank description are dropped.
func StepsToPlan(steps []StepInput, opts PlanOptions) (PlanEvent, error) {
	prefix := opts.StepIDPrefix
	if prefix == "" {
		prefix = "s"
	}

	normalized := make([]Step, 0, len(steps))
	for i, s := range steps {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		id := strings.TrimSpace(s.ID)
		if id == "" {
			id = fmt.Sprintf("%s%d", prefix, i+1)
		}
		normalized = append(normalized, Step{ID: id, Description: desc})
	}
	if len(normalized) == 0 {
		return PlanEvent{}, ErrNoSteps
	}

	ev := PlanEvent{
		Kind:    KindPlan,
		Payload: PlanPayload{GoalID: opts.GoalID, Steps: normalized},
		Base:    opts.Base.clone(),
	}
	return ev, ev.Validate()
}

var (
	bulletLine   = regexp.MustCompile(`^\s*[-*]\s+(.+)\s*$`)
	numberedLine = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)\s*$`)
)

// PlanFromText parses planner output into a plan. Only bulleted ("- x",
// "* x") and numbered ("1. x", "1) x") lines count as steps; prose is skipped.
func PlanFromText(text string, opts PlanOptions) (PlanEvent, error) {
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			steps = append(steps, m[1])
			continue
		}
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			steps = append(steps, m[1])
		}
	}
	return StepsToPlan(Steps(steps...), opts)
}

// PromptStyle selects the list format requested from a planner.
type PromptStyle string

const (
	StyleNumbered PromptStyle = "numbered"
	StyleBulleted PromptStyle = "bulleted"
)

// PromptOptions configures PlanPromptText.
type PromptOptions struct {
	// MaxSteps, when positive, caps the number of requested steps.
	MaxSteps int
	// Style defaults to StyleNumbered.
	Style PromptStyle
}

// PlanPromptText appends a response-format section to prompt asking for a
// list PlanFromText can parse. The output is deterministic.
func PlanPromptText(prompt string, opts PromptOptions) string {
	lines := []string{strings.TrimRight(prompt, " \t\r\n"), "", "## Response Format"}

	if opts.Style == StyleBulleted {
		lines = append(lines,
			"Return ONLY a bulleted list of steps (no prose).",
			"Example:",
			"- First step",
			"- Second step",
		)
	} else {
		lines = append(lines,
			"Return ONLY a numbered list of steps (no prose).",
			"Example:",
			"1. First step",
			"2. Second step",
		)
	}

	if opts.MaxSteps > 0 {
		lines = append(lines, "", fmt.Sprintf("Limit to at most %d steps.", opts.MaxSteps))
	}
	return strings.Join(lines, "\n")
}

// ActOptions configures act builders.
type ActOptions struct {
	GoalID string
	StepID string
	Base
}

// ActFromAction builds an act for an arbitrary, non-kernel action such as a
// tool call.
func ActFromAction(action string, input any, opts ActOptions) (ActEvent, error) {
	ev := ActEvent{
		Kind: KindAct,
		Payload: ActPayload{
			GoalID: opts.GoalID,
			StepID: opts.StepID,
			Action: action,
			Input:  input,
		},
		Base: opts.Base.clone(),
	}
	return ev, ev.Validate()
}

func (b Base) clone() Base {
	return Base{Meta: b.Meta.Clone(), CorrelationID: b.CorrelationID, Source: b.Source}
}
