package tape

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/patmonardo/new-organon-sub002/pkg/canonicalize"
	"github.com/patmonardo/new-organon-sub002/pkg/gdslink"
)

// Recorder captures wire exchanges during live execution.
type Recorder struct {
	mu      sync.Mutex
	tapeID  string
	entries []Entry
	seq     uint64
	clock   func() time.Time
}

// NewRecorder creates a new tape recorder.
func NewRecorder(tapeID string) *Recorder {
	return &Recorder{
		tapeID:  tapeID,
		entries: make([]Entry, 0),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	r.clock = clock
	return r
}

// Wrap returns an invoke function that forwards to next and records every
// call, including failed ones. Responses and errors pass through unchanged.
func (r *Recorder) Wrap(next gdslink.InvokeFunc) gdslink.InvokeFunc {
	return func(ctx context.Context, request string) (string, error) {
		response, err := next(ctx, request)
		r.Record(request, response, err)
		return response, err
	}
}

// Record captures one exchange.
func (r *Recorder) Record(request, response string, invokeErr error) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	entry := Entry{
		Seq:         r.seq,
		Type:        EntryTypeExchange,
		OperationID: operationOf(request),
		RequestHash: canonicalize.HashBytes([]byte(request)),
		Request:     request,
		Timestamp:   r.clock(),
	}
	if invokeErr != nil {
		entry.Type = EntryTypeTransportError
		entry.Error = invokeErr.Error()
	} else {
		entry.Response = response
		entry.ResponseHash = canonicalize.HashBytes([]byte(response))
	}
	r.entries = append(r.entries, entry)
	return &entry
}

// Entries returns all recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

func buildManifest(tapeID string, entries []Entry) *Manifest {
	items := make([]ManifestItem, len(entries))
	for i, e := range entries {
		items[i] = ManifestItem{
			Seq:          e.Seq,
			Type:         e.Type,
			OperationID:  e.OperationID,
			RequestHash:  e.RequestHash,
			ResponseHash: e.ResponseHash,
			SizeBytes:    int64(len(e.Request) + len(e.Response)),
		}
	}
	return &Manifest{TapeID: tapeID, Entries: items}
}

// Count returns the number of recorded entries.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// operationOf extracts gds.<facade>.<op> from a wire request, or "".
func operationOf(request string) string {
	var head struct {
		Facade string `json:"facade"`
		Op     string `json:"op"`
	}
	if err := json.Unmarshal([]byte(request), &head); err != nil || head.Facade == "" || head.Op == "" {
		return ""
	}
	return gdslink.OperationID(head.Facade, head.Op)
}
