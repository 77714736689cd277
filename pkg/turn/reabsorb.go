package turn

import (
	"time"

	"github.com/patmonardo/new-organon-sub002/pkg/taw"
	"github.com/patmonardo/new-organon-sub002/pkg/trace"
)

// Reabsorb returns the context the next turn starts from: doc's facts with
// delta appended in order, stamped at. doc itself is left untouched.
func Reabsorb(doc taw.ContextDocument, delta []trace.Event, at time.Time) taw.ContextDocument {
	facts := make([]any, 0, len(doc.Facts)+len(delta))
	facts = append(facts, doc.Facts...)
	for _, ev := range delta {
		facts = append(facts, ev)
	}

	next := doc
	next.Facts = facts
	next.Timestamp = at.UTC().Format(time.RFC3339Nano)
	if doc.Goal != nil {
		g := *doc.Goal
		next.Goal = &g
	}
	return next
}

// Next closes the loop on t: the trace delta is folded into the context
// and a fresh turn is opened for intent with an empty delta.
func Next(t LoopTurn, intent taw.IntentEvent, at time.Time) LoopTurn {
	return LoopTurn{
		Meta:       t.Meta.Clone(),
		Context:    Reabsorb(t.Context, t.TraceDelta, at),
		Intent:     intent,
		TraceDelta: []trace.Event{},
	}
}
