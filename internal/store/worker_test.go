package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, cfg RuntimeConfig) *Worker {
	t.Helper()
	w, err := NewWorker(t.TempDir(), cfg)
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func entry(role, content string) TranscriptEntry {
	return TranscriptEntry{ID: role + "-" + content, Timestamp: time.Now().UTC(), Role: role, Content: content}
}

func TestWorkerAppendAndReadTranscript(t *testing.T) {
	w := newTestWorker(t, RuntimeConfig{})
	ctx := context.Background()

	require.NoError(t, w.AppendTranscript(ctx, "sess-1", []TranscriptEntry{
		entry(contract.RoleUser, "audit example.com"),
		entry(contract.RoleAssistant, "on it"),
	}, SessionTouch{Title: "audit example.com", RunID: "run-1", NewRun: true, Steps: 1}))
	require.NoError(t, w.AppendTranscript(ctx, "sess-1", []TranscriptEntry{
		entry(contract.RoleTool, `{"score":80}`),
		entry(contract.RoleAssistant, "score is 80"),
	}, SessionTouch{Title: "ignored", RunID: "run-1", Steps: 1}))

	all, err := w.ReadTranscript(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "audit example.com", all[0].Content)
	assert.Equal(t, "score is 80", all[3].Content)

	tail, err := w.ReadTranscript(ctx, "sess-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, contract.RoleTool, tail[0].Role)

	meta, err := w.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "audit example.com", meta.Title)
	assert.Equal(t, 1, meta.Runs)
	assert.Equal(t, 2, meta.Steps)
	assert.Equal(t, "run-1", meta.LastRunID)
	assert.False(t, meta.CreatedAt.IsZero())
}

func TestWorkerSessionIndexIsPersisted(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	w, err := NewWorker(root, RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	require.NoError(t, w.AppendTranscript(ctx, "older", []TranscriptEntry{entry(contract.RoleUser, "a")}, SessionTouch{Steps: 1}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, w.AppendTranscript(ctx, "newer", []TranscriptEntry{entry(contract.RoleUser, "b")}, SessionTouch{Steps: 1}))
	w.Stop()

	data, err := os.ReadFile(SessionIndexPath(root))
	require.NoError(t, err)
	var index SessionIndex
	require.NoError(t, json.Unmarshal(data, &index))
	assert.Len(t, index.Sessions, 2)

	reopened, err := NewWorker(root, RuntimeConfig{})
	require.NoError(t, err)
	reopened.Start()
	defer reopened.Stop()

	sessions, err := reopened.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "newer", sessions[0].ID)
	assert.Equal(t, "older", sessions[1].ID)
}

func TestWorkerResetSession(t *testing.T) {
	w := newTestWorker(t, RuntimeConfig{})
	ctx := context.Background()

	require.NoError(t, w.AppendTranscript(ctx, "gone", []TranscriptEntry{entry(contract.RoleUser, "x")}, SessionTouch{Steps: 1}))
	require.NoError(t, w.ResetSession(ctx, "gone"))

	_, err := w.GetSession(ctx, "gone")
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrNotFound))

	entries, err := w.ReadTranscript(ctx, "gone", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkerRejectsUnsafeSessionID(t *testing.T) {
	w := newTestWorker(t, RuntimeConfig{})

	err := w.AppendTranscript(context.Background(), "../escape", nil, SessionTouch{})
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrInvalidInput))
}

func TestWorkerSkipsMalformedTranscriptLines(t *testing.T) {
	w := newTestWorker(t, RuntimeConfig{})
	ctx := context.Background()

	require.NoError(t, w.AppendTranscript(ctx, "mixed", []TranscriptEntry{entry(contract.RoleUser, "ok")}, SessionTouch{}))

	path, err := TranscriptPath(w.Root(), "mixed")
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := w.ReadTranscript(ctx, "mixed", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Content)
}

func TestTranscriptRotation(t *testing.T) {
	w := newTestWorker(t, RuntimeConfig{TranscriptRotateMaxBytes: 512})
	ctx := context.Background()

	big := strings.Repeat("x", 400)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.AppendTranscript(ctx, "rotate-sess", []TranscriptEntry{entry(contract.RoleAssistant, big)}, SessionTouch{}))
	}

	path, err := TranscriptPath(w.Root(), "rotate-sess")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024))

	backups, err := filepath.Glob(path + ".*.bak")
	require.NoError(t, err)
	assert.NotEmpty(t, backups)

	require.NoError(t, w.ResetSession(ctx, "rotate-sess"))
	backups, err = filepath.Glob(path + ".*.bak")
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestWorkerStoppedRejectsRequests(t *testing.T) {
	w, err := NewWorker(t.TempDir(), RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	assert.True(t, w.IsRunning())

	w.Stop()
	w.Stop()
	assert.False(t, w.IsLockHeld())

	_, err = w.ListSessions(context.Background())
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrConflict))
}

func TestWorkerHonoursContext(t *testing.T) {
	w, err := NewWorker(t.TempDir(), RuntimeConfig{})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = w.ListSessions(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSecondWorkerCannotOpenLockedStore(t *testing.T) {
	root := t.TempDir()
	first, err := NewWorker(root, RuntimeConfig{})
	require.NoError(t, err)
	defer first.Stop()

	_, err = NewWorker(root, RuntimeConfig{LockTimeout: 50 * time.Millisecond, LockRetry: 10 * time.Millisecond, LockMaxRetry: 5})
	require.Error(t, err)
}
