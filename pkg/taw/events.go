// Package taw models the agent loop as four tagged events:
// intent → plan → act → result.
//
// Each variant is its own struct; the sealed Event interface lets consumers
// switch exhaustively on the concrete type once a document has been
// validated at the boundary.
package taw

import (
	"fmt"

	"github.com/patmonardo/new-organon-sub002/pkg/trace"
)

// Kind discriminates loop events.
type Kind string

const (
	KindIntent Kind = "taw.intent"
	KindPlan   Kind = "taw.plan"
	KindAct    Kind = "taw.act"
	KindResult Kind = "taw.result"
)

// Base holds the fields shared by every loop event.
type Base struct {
	Meta          trace.Meta `json:"meta,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	Source        string     `json:"source,omitempty"`
}

// Goal is what an intent aims at.
type Goal struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Step is one planned step.
type Step struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type IntentPayload struct {
	Goal        Goal     `json:"goal"`
	Constraints []string `json:"constraints,omitempty"`
}

type PlanPayload struct {
	GoalID string `json:"goalId"`
	Steps  []Step `json:"steps"`
}

type ActPayload struct {
	GoalID string `json:"goalId"`
	StepID string `json:"stepId,omitempty"`
	Action string `json:"action"`
	Input  any    `json:"input,omitempty"`
}

type ResultPayload struct {
	GoalID string `json:"goalId"`
	StepID string `json:"stepId,omitempty"`
	OK     bool   `json:"ok"`
	Output any    `json:"output,omitempty"`
	Error  any    `json:"error,omitempty"`
}

// Event is implemented by IntentEvent, PlanEvent, ActEvent and ResultEvent
// only.
type Event interface {
	EventKind() Kind
	EventBase() Base
	EventPayload() any
	sealed()
}

type IntentEvent struct {
	Kind    Kind          `json:"kind"`
	Payload IntentPayload `json:"payload"`
	Base
}

type PlanEvent struct {
	Kind    Kind        `json:"kind"`
	Payload PlanPayload `json:"payload"`
	Base
}

type ActEvent struct {
	Kind    Kind       `json:"kind"`
	Payload ActPayload `json:"payload"`
	Base
}

type ResultEvent struct {
	Kind    Kind          `json:"kind"`
	Payload ResultPayload `json:"payload"`
	Base
}

func (e IntentEvent) EventKind() Kind   { return KindIntent }
func (e IntentEvent) EventBase() Base   { return e.Base }
func (e IntentEvent) EventPayload() any { return e.Payload }
func (IntentEvent) sealed()             {}

func (e PlanEvent) EventKind() Kind   { return KindPlan }
func (e PlanEvent) EventBase() Base   { return e.Base }
func (e PlanEvent) EventPayload() any { return e.Payload }
func (PlanEvent) sealed()             {}

func (e ActEvent) EventKind() Kind   { return KindAct }
func (e ActEvent) EventBase() Base   { return e.Base }
func (e ActEvent) EventPayload() any { return e.Payload }
func (ActEvent) sealed()             {}

func (e ResultEvent) EventKind() Kind   { return KindResult }
func (e ResultEvent) EventBase() Base   { return e.Base }
func (e ResultEvent) EventPayload() any { return e.Payload }
func (ResultEvent) sealed()             {}

// Validate checks the invariants of an intent event.
func (e IntentEvent) Validate() error {
	if e.Kind != KindIntent {
		return fmt.Errorf("taw.intent: unexpected kind %q", e.Kind)
	}
	return nil
}

// Validate checks the invariants of a plan event.
func (e PlanEvent) Validate() error {
	if e.Kind != KindPlan {
		return fmt.Errorf("taw.plan: unexpected kind %q", e.Kind)
	}
	return nil
}

// Validate checks the invariants of an act event.
func (e ActEvent) Validate() error {
	if e.Kind != KindAct {
		return fmt.Errorf("taw.act: unexpected kind %q", e.Kind)
	}
	if e.Payload.Action == "" {
		return fmt.Errorf("taw.act: payload.action is required")
	}
	return nil
}

// Validate checks the result invariant: a failed result carries an error
// and no output, a successful one carries no error.
func (e ResultEvent) Validate() error {
	if e.Kind != KindResult {
		return fmt.Errorf("taw.result: unexpected kind %q", e.Kind)
	}
	if e.Payload.OK && e.Payload.Error != nil {
		return fmt.Errorf("taw.result: ok=true must not carry error")
	}
	if !e.Payload.OK && e.Payload.Output != nil {
		return fmt.Errorf("taw.result: ok=false must not carry output")
	}
	if !e.Payload.OK && e.Payload.Error == nil {
		return fmt.Errorf("taw.result: ok=false requires error")
	}
	return nil
}

// ToTrace converts any loop event into a generic trace event.
func ToTrace(e Event) trace.Event {
	return trace.Event{
		Kind:    string(e.EventKind()),
		Payload: e.EventPayload(),
		Meta:    e.EventBase().Meta.Clone(),
	}
}
