// Package bus is a synchronous, in-memory publish/subscribe pipe for loop
// envelopes.
//
// Publish fans out on the caller's goroutine in subscription order and
// returns only after every matching handler has run. A handler that
// publishes is serviced re-entrantly before the outer Publish returns.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/patmonardo/new-organon-sub002/pkg/taw"
	"github.com/patmonardo/new-organon-sub002/pkg/trace"
)

// Envelope is a published event with identity and timestamp.
type Envelope struct {
	ID            string     `json:"id"`
	TS            time.Time  `json:"ts"`
	Kind          string     `json:"kind"`
	Payload       any        `json:"payload,omitempty"`
	Meta          trace.Meta `json:"meta,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	Source        string     `json:"source,omitempty"`
}

// Input is what callers publish. When ID and TS are both set the envelope
// is replayed verbatim; missing identity fields are synthesized.
type Input struct {
	ID            string
	TS            time.Time
	Kind          string
	Payload       any
	Meta          trace.Meta
	CorrelationID string
	Source        string
}

// Handler receives matching envelopes.
type Handler func(Envelope)

type subscription struct {
	id        uint64
	handler   Handler
	kinds     map[string]bool
	predicate func(Envelope) bool
	active    atomic.Bool
}

func (s *subscription) matches(env Envelope) bool {
	if s.kinds != nil && !s.kinds[env.Kind] {
		return false
	}
	if s.predicate != nil && !s.predicate(env) {
		return false
	}
	return true
}

// Option configures a subscription.
type Option func(*subscription)

// WithKinds restricts a subscription to the given kinds. No kinds means no
// kind filter.
func WithKinds(kinds ...string) Option {
	return func(s *subscription) {
		if len(kinds) == 0 {
			return
		}
		if s.kinds == nil {
			s.kinds = make(map[string]bool, len(kinds))
		}
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
}

// WithPredicate adds a predicate every delivered envelope must satisfy.
// Several predicates are combined with AND.
func WithPredicate(fn func(Envelope) bool) Option {
	return func(s *subscription) {
		prev := s.predicate
		if prev == nil {
			s.predicate = fn
			return
		}
		s.predicate = func(env Envelope) bool { return prev(env) && fn(env) }
	}
}

// Bus holds the subscription list. The zero value is not usable; call New.
type Bus struct {
	mu       sync.Mutex
	subs     []*subscription
	nextID   uint64
	clock    func() time.Time
	newID    func() string
	maxDepth int
	depth    atomic.Int32
	logger   *slog.Logger
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		clock:  time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "bus"),
	}
}

// WithClock overrides the timestamp source for deterministic testing.
func (b *Bus) WithClock(clock func() time.Time) *Bus {
	b.clock = clock
	return b
}

// WithIDGenerator overrides envelope id generation.
func (b *Bus) WithIDGenerator(fn func() string) *Bus {
	b.newID = fn
	return b
}

// WithMaxDepth bounds re-entrant dispatch. A publish nested deeper than n
// returns its envelope without fanning out and logs a warning. Zero means
// unbounded. Depth is counted per bus, so the guard is exact only when one
// goroutine drives the bus.
func (b *Bus) WithMaxDepth(n int) *Bus {
	b.maxDepth = n
	return b
}

// WithLogger sets the bus logger.
func (b *Bus) WithLogger(l *slog.Logger) *Bus {
	b.logger = l.With("component", "bus")
	return b
}

// Subscribe registers handler and returns its unsubscribe function. Calling
// unsubscribe more than once is a no-op.
func (b *Bus) Subscribe(handler Handler, opts ...Option) func() {
	s := &subscription{handler: handler}
	for _, opt := range opts {
		opt(s)
	}
	s.active.Store(true)

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s) })
	}
}

func (b *Bus) remove(s *subscription) {
	s.active.Store(false)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish builds the envelope for in and delivers it to every matching
// subscription in registration order.
func (b *Bus) Publish(in Input) Envelope {
	env := Envelope{
		ID:            in.ID,
		TS:            in.TS,
		Kind:          in.Kind,
		Payload:       in.Payload,
		Meta:          in.Meta.Clone(),
		CorrelationID: in.CorrelationID,
		Source:        in.Source,
	}
	if env.ID == "" {
		env.ID = b.newID()
	}
	if env.TS.IsZero() {
		env.TS = b.clock().UTC()
	}

	depth := int(b.depth.Add(1))
	defer b.depth.Add(-1)
	if b.maxDepth > 0 && depth > b.maxDepth {
		b.logger.Warn("re-entrant publish beyond max depth, not dispatched",
			"kind", env.Kind, "id", env.ID, "depth", depth, "max_depth", b.maxDepth)
		return env
	}

	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		if !s.active.Load() || !s.matches(env) {
			continue
		}
		s.handler(env)
	}
	return env
}

// PublishTaw publishes a loop event under its own kind, carrying its base
// fields onto the envelope.
func PublishTaw(b *Bus, ev taw.Event) Envelope {
	base := ev.EventBase()
	return b.Publish(Input{
		Kind:          string(ev.EventKind()),
		Payload:       ev.EventPayload(),
		Meta:          base.Meta,
		CorrelationID: base.CorrelationID,
		Source:        base.Source,
	})
}

// PublishTrace publishes one trace event.
func PublishTrace(b *Bus, ev trace.Event, correlationID, source string) Envelope {
	return b.Publish(Input{
		Kind:          ev.Kind,
		Payload:       ev.Payload,
		Meta:          ev.Meta,
		CorrelationID: correlationID,
		Source:        source,
	})
}
