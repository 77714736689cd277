package trace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patmonardo/new-organon-sub002/pkg/canonicalize"
)

// Entry is one committed trace event with its position in the chain.
type Entry struct {
	Seq         uint64    `json:"seq"`
	Event       Event     `json:"event"`
	CommittedAt time.Time `json:"committed_at"`
	EventHash   string    `json:"event_hash"`
	PrevHash    string    `json:"prev_hash"`
	ChainHash   string    `json:"chain_hash"`
}

// Log is an append-only, in-memory trace log. Each entry's chain hash
// covers its canonical event hash and the previous chain hash, so two logs
// with the same events in the same order always share a head hash.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
	clock   func() time.Time
}

// NewLog creates an empty trace log.
func NewLog() *Log {
	return &Log{clock: time.Now}
}

// WithClock overrides the commit clock for deterministic testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Append commits events in order and returns the sequence number of the last.
// The batch is all or nothing: if any event fails to hash, nothing is
// committed.
func (l *Log) Append(ctx context.Context, events ...Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	batch := make([]Entry, 0, len(events))
	head := l.head
	for i, ev := range events {
		eventHash, err := canonicalize.CanonicalHash(ev)
		if err != nil {
			return 0, fmt.Errorf("trace log: hash %s event: %w", ev.Kind, err)
		}
		seq := uint64(len(l.entries)+i) + 1
		chain, err := chainHash(seq, eventHash, head)
		if err != nil {
			return 0, err
		}
		batch = append(batch, Entry{
			Seq:         seq,
			Event:       ev,
			CommittedAt: l.clock().UTC(),
			EventHash:   eventHash,
			PrevHash:    head,
			ChainHash:   chain,
		})
		head = chain
	}

	l.entries = append(l.entries, batch...)
	l.head = head
	return uint64(len(l.entries)), nil
}

// Get retrieves an entry by sequence number.
func (l *Log) Get(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("trace entry not found: sequence %d", seq)
	}
	return l.entries[seq-1], nil
}

// Range returns entries in [start, end], clamped to the committed length.
func (l *Log) Range(start, end uint64) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if start == 0 || start > end {
		return nil, fmt.Errorf("invalid range: [%d, %d]", start, end)
	}
	last := uint64(len(l.entries))
	if start > last {
		return []Entry{}, nil
	}
	if end > last {
		end = last
	}
	out := make([]Entry, end-start+1)
	copy(out, l.entries[start-1:end])
	return out, nil
}

// Events returns every committed event in commit order.
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Event
	}
	return out
}

// Len returns the number of committed entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the chain hash of the last entry, empty for an empty log.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Verify recomputes every event and chain hash and reports the first
// sequence number that no longer matches.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := ""
	for _, e := range l.entries {
		eventHash, err := canonicalize.CanonicalHash(e.Event)
		if err != nil {
			return fmt.Errorf("trace log: seq %d: %w", e.Seq, err)
		}
		if eventHash != e.EventHash {
			return fmt.Errorf("trace log: seq %d: event hash mismatch", e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("trace log: seq %d: broken chain link", e.Seq)
		}
		chain, err := chainHash(e.Seq, eventHash, prev)
		if err != nil {
			return err
		}
		if chain != e.ChainHash {
			return fmt.Errorf("trace log: seq %d: chain hash mismatch", e.Seq)
		}
		prev = chain
	}
	return nil
}

func chainHash(seq uint64, eventHash, prev string) (string, error) {
	h, err := canonicalize.CanonicalHash(map[string]any{
		"seq":        seq,
		"event_hash": eventHash,
		"prev_hash":  prev,
	})
	if err != nil {
		return "", fmt.Errorf("trace log: chain hash: %w", err)
	}
	return h, nil
}
