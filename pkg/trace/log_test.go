package trace

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func kernelPair(runID string) []Event {
	meta := Meta{"runId": runID}
	return []Event{
		{Kind: KindKernelRunRequest, Payload: map[string]any{"model": map[string]any{"id": "gds.pregel.rank"}}, Meta: meta},
		{Kind: KindKernelRunResult, Payload: map[string]any{"ok": true}, Meta: meta},
	}
}

func TestLog_AppendAssignsSequence(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewLog().WithClock(func() time.Time { return fixed })

	last, err := l.Append(context.Background(), kernelPair("c1:kernel.run")...)
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)
	require.Equal(t, 2, l.Len())

	first, err := l.Get(1)
	require.NoError(t, err)
	require.Equal(t, KindKernelRunRequest, first.Event.Kind)
	require.Empty(t, first.PrevHash)
	require.Equal(t, fixed, first.CommittedAt)

	second, err := l.Get(2)
	require.NoError(t, err)
	require.Equal(t, first.ChainHash, second.PrevHash)
	require.Equal(t, second.ChainHash, l.Head())
}

func TestLog_SameEventsSameHead(t *testing.T) {
	a, b := NewLog(), NewLog()
	_, err := a.Append(context.Background(), kernelPair("r1")...)
	require.NoError(t, err)
	_, err = b.Append(context.Background(), kernelPair("r1")...)
	require.NoError(t, err)

	require.Equal(t, a.Head(), b.Head())
}

func TestLog_OrderChangesHead(t *testing.T) {
	pair := kernelPair("r1")
	a, b := NewLog(), NewLog()
	_, err := a.Append(context.Background(), pair[0], pair[1])
	require.NoError(t, err)
	_, err = b.Append(context.Background(), pair[1], pair[0])
	require.NoError(t, err)

	require.NotEqual(t, a.Head(), b.Head())
}

func TestLog_VerifyDetectsTampering(t *testing.T) {
	l := NewLog()
	_, err := l.Append(context.Background(), kernelPair("r1")...)
	require.NoError(t, err)
	require.NoError(t, l.Verify())

	l.entries[0].Event.Payload = map[string]any{"model": map[string]any{"id": "gds.other.op"}}
	err = l.Verify()
	require.Error(t, err)
	require.Contains(t, err.Error(), "seq 1")
}

func TestLog_Range(t *testing.T) {
	l := NewLog()
	_, err := l.Append(context.Background(), append(kernelPair("r1"), kernelPair("r2")...)...)
	require.NoError(t, err)

	got, err := l.Range(2, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(2), got[0].Seq)

	empty, err := l.Range(9, 10)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = l.Range(0, 1)
	require.Error(t, err)
	_, err = l.Get(99)
	require.Error(t, err)
}

func TestLog_AppendIsAllOrNothing(t *testing.T) {
	l := NewLog()
	_, err := l.Append(context.Background(), kernelPair("c0:kernel.run")...)
	require.NoError(t, err)
	head := l.Head()

	batch := kernelPair("c1:kernel.run")
	batch[1].Payload = map[string]any{"ok": true, "output": map[string]any{"score": math.NaN()}}
	_, err = l.Append(context.Background(), batch...)
	require.Error(t, err)
	require.Equal(t, 2, l.Len())
	require.Equal(t, head, l.Head())
	require.NoError(t, l.Verify())

	last, err := l.Append(context.Background(), kernelPair("c2:kernel.run")...)
	require.NoError(t, err)
	require.Equal(t, uint64(4), last)
	require.NoError(t, l.Verify())
}

func TestLog_AppendHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLog().Append(ctx, kernelPair("r1")...)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMeta_CloneAndWith(t *testing.T) {
	var empty Meta
	require.Nil(t, empty.Clone())

	m := Meta{"note": "x"}
	withRun := m.With("runId", "r1")
	require.Equal(t, "r1", withRun["runId"])
	_, mutated := m["runId"]
	require.False(t, mutated)

	c := m.Clone()
	c["note"] = "y"
	require.Equal(t, "x", m["note"])
}
