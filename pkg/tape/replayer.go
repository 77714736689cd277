package tape

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/patmonardo/new-organon-sub002/pkg/canonicalize"
)

// ErrTapeMiss is wrapped by every replay lookup that the tape cannot answer.
var ErrTapeMiss = errors.New("REPLAY_TAPE_MISS")

// Replayer serves taped responses and never reaches a live kernel.
//
// Identical requests recorded more than once are answered in recording
// order; once a request's responses are used up, further calls miss.
type Replayer struct {
	mu     sync.Mutex
	count  int
	byHash map[string][]*Entry
}

// NewReplayer creates a replayer from recorded entries.
func NewReplayer(entries []Entry) *Replayer {
	byHash := make(map[string][]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		byHash[e.RequestHash] = append(byHash[e.RequestHash], &e)
	}
	return &Replayer{count: len(entries), byHash: byHash}
}

// Invoke answers request from the tape. It has the shape of
// gdslink.InvokeFunc so a replayer can stand in for any transport.
func (r *Replayer) Invoke(ctx context.Context, request string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := canonicalize.HashBytes([]byte(request))
	queue := r.byHash[hash]
	if len(queue) == 0 {
		return "", fmt.Errorf("%w: request %s not found in tape", ErrTapeMiss, hash)
	}
	entry := queue[0]
	r.byHash[hash] = queue[1:]

	if entry.Type == EntryTypeTransportError {
		return "", fmt.Errorf("taped transport error (seq=%d): %s", entry.Seq, entry.Error)
	}
	return entry.Response, nil
}

// Remaining returns how many recorded exchanges have not been replayed.
func (r *Replayer) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.byHash {
		n += len(q)
	}
	return n
}

// Count returns the number of entries on the tape.
func (r *Replayer) Count() int {
	return r.count
}
