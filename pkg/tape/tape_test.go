package tape

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patmonardo/new-organon-sub002/pkg/gdslink"
	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
)

const listGraphs = `{"databaseId":"db1","facade":"graph_store_catalog","op":"list_graphs","user":{"isAdmin":false,"username":"alice"}}`

func listRequest() kernel.RunRequest {
	return kernel.RunRequest{
		Model: kernel.ModelRef{ID: "gds.graph_store_catalog.list_graphs"},
		Input: map[string]any{"user": map[string]any{"username": "alice", "isAdmin": false}, "databaseId": "db1"},
	}
}

func TestRecorder_Exchange(t *testing.T) {
	fixed := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	r := NewRecorder("tape-1").WithClock(func() time.Time { return fixed })

	entry := r.Record(listGraphs, `{"ok":true,"op":"list_graphs","data":{"graphs":[]}}`, nil)
	require.Equal(t, EntryTypeExchange, entry.Type)
	require.Equal(t, "gds.graph_store_catalog.list_graphs", entry.OperationID)
	require.Equal(t, uint64(1), entry.Seq)
	require.Equal(t, fixed, entry.Timestamp)
	require.NotEmpty(t, entry.RequestHash)
	require.NotEmpty(t, entry.ResponseHash)
}

func TestRecorder_TransportError(t *testing.T) {
	r := NewRecorder("tape-1")
	entry := r.Record("not json", "", errors.New("connection refused"))
	require.Equal(t, EntryTypeTransportError, entry.Type)
	require.Empty(t, entry.OperationID)
	require.Empty(t, entry.ResponseHash)
	require.Equal(t, "connection refused", entry.Error)
}

func TestRecordThenReplay_ThroughPort(t *testing.T) {
	ctx := context.Background()
	live := gdslink.NewMemoryKernel(gdslink.GraphEntry{Name: "g1", NodeCount: 3, RelationshipCount: 2})
	rec := NewRecorder("tape-1")

	recorded := gdslink.NewPort(rec.Wrap(live.Invoke)).Run(ctx, listRequest())
	require.True(t, recorded.OK, recorded.Message())
	require.Equal(t, 1, rec.Count())
	require.Equal(t, listGraphs, rec.Entries()[0].Request)

	dir := t.TempDir()
	require.NoError(t, rec.Save(dir))

	replayer, err := Load(dir)
	require.NoError(t, err)
	replayed := gdslink.NewPort(replayer.Invoke).Run(ctx, listRequest())
	require.Equal(t, recorded, replayed)
	require.Zero(t, replayer.Remaining())

	// The tape holds one answer; a second identical call misses.
	missed := gdslink.NewPort(replayer.Invoke).Run(ctx, listRequest())
	require.False(t, missed.OK)
	require.Equal(t, kernel.CodeTransport, missed.Code())
	require.Contains(t, missed.Message(), "REPLAY_TAPE_MISS")
}

func TestReplayer_Miss(t *testing.T) {
	replayer := NewReplayer(nil)
	_, err := replayer.Invoke(context.Background(), listGraphs)
	require.ErrorIs(t, err, ErrTapeMiss)
	require.Zero(t, replayer.Count())
}

func TestReplayer_TransportErrorIsReplayed(t *testing.T) {
	r := NewRecorder("tape-1")
	r.Record(listGraphs, "", errors.New("connection refused"))

	_, err := NewReplayer(r.Entries()).Invoke(context.Background(), listGraphs)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTapeMiss)
	require.Contains(t, err.Error(), "connection refused")
}

func TestReplayer_RepeatedRequestsInOrder(t *testing.T) {
	r := NewRecorder("tape-1")
	r.Record(listGraphs, "first", nil)
	r.Record(listGraphs, "second", nil)

	replayer := NewReplayer(r.Entries())
	require.Equal(t, 2, replayer.Count())
	require.Equal(t, 2, replayer.Remaining())

	ctx := context.Background()
	got1, err := replayer.Invoke(ctx, listGraphs)
	require.NoError(t, err)
	got2, err := replayer.Invoke(ctx, listGraphs)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, []string{got1, got2})
	require.Zero(t, replayer.Remaining())

	_, err = replayer.Invoke(ctx, listGraphs)
	require.ErrorIs(t, err, ErrTapeMiss)
	require.Equal(t, 2, replayer.Count())
}

func TestReplayer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReplayer(nil).Invoke(ctx, listGraphs)
	require.ErrorIs(t, err, context.Canceled)
}

func TestManifest_WriteRead(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder("tape-1")
	r.Record(listGraphs, "a", nil)
	r.Record("{}", "", errors.New("down"))

	require.NoError(t, WriteManifest(dir, buildManifest("tape-1", r.Entries())))

	loaded, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, "tape-1", loaded.TapeID)
	require.Len(t, loaded.Entries, 2)
	require.Empty(t, VerifyManifestIntegrity(r.Entries(), loaded))

	_, err = os.Stat(filepath.Join(dir, "tape_manifest.json"))
	require.NoError(t, err)
}

func TestManifest_CorruptedHash(t *testing.T) {
	r := NewRecorder("tape-1")
	r.Record(listGraphs, "response", nil)
	entries := r.Entries()
	manifest := buildManifest("tape-1", r.Entries())
	manifest.Entries[0].ResponseHash = "tampered"

	issues := VerifyManifestIntegrity(entries, manifest)
	require.Len(t, issues, 1)
	require.Contains(t, issues[0], "response hash mismatch")

	manifest.Entries = append(manifest.Entries, ManifestItem{Seq: 9})
	require.Len(t, VerifyManifestIntegrity(entries, manifest), 2)
}

func TestLoad_RejectsTamperedTape(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder("tape-1")
	r.Record(listGraphs, "response", nil)
	require.NoError(t, r.Save(dir))

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	m.Entries[0].RequestHash = "tampered"
	require.NoError(t, WriteManifest(dir, m))

	_, err = Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "integrity")
}

func TestRecorder_Count(t *testing.T) {
	r := NewRecorder("tape-1")
	require.Equal(t, 0, r.Count())
	r.Record(listGraphs, "x", nil)
	require.Equal(t, 1, r.Count())
	require.Equal(t, "x", r.Entries()[0].Response)
}
