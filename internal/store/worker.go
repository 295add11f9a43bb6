package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/pathutil"

	"github.com/natefinch/atomic"
	"github.com/philippgille/chromem-go"
)

type Operation int

const (
	OpAppendTranscript Operation = iota
	OpResetSession
	OpGetSession
	OpListSessions
	OpUpsertVector
	OpSearchVectors
	OpReadTranscript
)

func (o Operation) String() string {
	switch o {
	case OpAppendTranscript:
		return "append_transcript"
	case OpResetSession:
		return "reset_session"
	case OpGetSession:
		return "get_session"
	case OpListSessions:
		return "list_sessions"
	case OpUpsertVector:
		return "upsert_vector"
	case OpSearchVectors:
		return "search_vectors"
	case OpReadTranscript:
		return "read_transcript"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type AppendTranscriptPayload struct {
	SessionID string
	Entries   []TranscriptEntry
	Touch     SessionTouch
}

// SessionTouch updates the index entry of the session being appended to.
type SessionTouch struct {
	Title    string
	Model    string
	RunID    string
	NewRun   bool
	Steps    int
	Metadata map[string]string
}

type UpsertVectorPayload struct {
	Collection string
	Document   Document
}

type SearchVectorsPayload struct {
	Collection string
	Vector     []float32
	Limit      int
}

type ReadTranscriptPayload struct {
	SessionID string
	Limit     int // 0 = all
}

// Worker owns the store directory. All writes go through its inbox and are applied by a
// single goroutine, so the session index needs no locking.
type Worker struct {
	root                     string
	inbox                    chan Request
	fileLock                 *FileLock
	quit                     chan struct{}
	stopOnce                 sync.Once
	wg                       sync.WaitGroup
	sessionIndex             *SessionIndex
	vectorDB                 *chromem.DB
	running                  stdatomic.Bool
	transcriptRotateMaxBytes int64
}

type RuntimeConfig struct {
	LockTimeout              time.Duration
	LockRetry                time.Duration
	LockMaxRetry             int
	InboxSize                int
	TranscriptRotateMaxBytes int64
}

// RuntimeConfigFrom converts the store config section.
func RuntimeConfigFrom(cfg config.StoreConfig) (RuntimeConfig, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse store lock timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse store lock retry: %w", err)
	}
	return RuntimeConfig{
		LockTimeout:              lockTimeout,
		LockRetry:                lockRetry,
		LockMaxRetry:             cfg.LockMaxRetry,
		InboxSize:                cfg.InboxSize,
		TranscriptRotateMaxBytes: cfg.TranscriptRotateMaxBytes,
	}, nil
}

func NewWorker(storePath string, runtimeCfg RuntimeConfig) (*Worker, error) {
	root, err := ResolveRoot(storePath)
	if err != nil {
		return nil, err
	}

	if err := pathutil.EnsureDirs(SessionsDir(root), VectorsDir(root)); err != nil {
		return nil, err
	}

	if runtimeCfg.LockTimeout <= 0 {
		lockTimeout, err := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock timeout: %w", err)
		}
		runtimeCfg.LockTimeout = lockTimeout
	}
	if runtimeCfg.LockRetry <= 0 {
		lockRetry, err := config.DurationOrDefault("", config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock retry: %w", err)
		}
		runtimeCfg.LockRetry = lockRetry
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}
	if runtimeCfg.TranscriptRotateMaxBytes <= 0 {
		runtimeCfg.TranscriptRotateMaxBytes = config.DefaultStoreTranscriptRotateMaxBytes
	}

	fileLock, err := NewFileLock(root, &FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	sessionIndex := &SessionIndex{Sessions: make(map[string]SessionMeta)}
	if data, err := os.ReadFile(SessionIndexPath(root)); err == nil {
		if err := json.Unmarshal(data, sessionIndex); err != nil {
			slog.Warn("Failed to parse session index, starting fresh", "error", err)
		}
		if sessionIndex.Sessions == nil {
			sessionIndex.Sessions = make(map[string]SessionMeta)
		}
	}

	// Embeddings are always supplied by the caller.
	vectorDB, err := chromem.NewPersistentDB(VectorsDir(root), false)
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("failed to init vector db: %w", err)
	}

	return &Worker{
		root:                     root,
		inbox:                    make(chan Request, runtimeCfg.InboxSize),
		fileLock:                 fileLock,
		quit:                     make(chan struct{}),
		sessionIndex:             sessionIndex,
		vectorDB:                 vectorDB,
		transcriptRotateMaxBytes: runtimeCfg.TranscriptRotateMaxBytes,
	}, nil
}

func (w *Worker) Root() string {
	return w.root
}

func (w *Worker) Start() {
	w.running.Store(true)
	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Debug("Store worker started", "root", w.root)
	defer func() {
		w.running.Store(false)
		w.wg.Done()
	}()

	for {
		select {
		case req := <-w.inbox:
			err := w.handle(req)
			if err != nil && !sitewiseErrors.IsCategory(err, sitewiseErrors.ErrNotFound) {
				slog.Warn("Store operation failed", "op", req.Op.String(), "error", err)
			}
			if req.Result != nil {
				req.Result <- err
			}
		case <-w.quit:
			slog.Debug("Store worker stopping", "root", w.root)
			return
		}
	}
}

func (w *Worker) handle(req Request) error {
	switch req.Op {
	case OpAppendTranscript:
		p, ok := req.Payload.(AppendTranscriptPayload)
		if !ok {
			return fmt.Errorf("invalid payload for %s", req.Op)
		}
		return w.appendTranscript(p)
	case OpResetSession:
		id, ok := req.Payload.(string)
		if !ok {
			return fmt.Errorf("invalid payload for %s", req.Op)
		}
		return w.resetSession(id)
	case OpGetSession:
		id, ok := req.Payload.(string)
		if !ok {
			return fmt.Errorf("invalid payload for %s", req.Op)
		}
		sess, found := w.sessionIndex.Sessions[id]
		if !found {
			return sitewiseErrors.NotFound(fmt.Sprintf("session %s not found", id))
		}
		req.Response <- &sess
		return nil
	case OpListSessions:
		req.Response <- w.listSessions()
		return nil
	case OpUpsertVector:
		p, ok := req.Payload.(UpsertVectorPayload)
		if !ok {
			return fmt.Errorf("invalid payload for %s", req.Op)
		}
		return w.upsertVector(p)
	case OpSearchVectors:
		p, ok := req.Payload.(SearchVectorsPayload)
		if !ok {
			return fmt.Errorf("invalid payload for %s", req.Op)
		}
		res, err := w.searchVectors(p)
		if err == nil {
			req.Response <- res
		}
		return err
	case OpReadTranscript:
		p, ok := req.Payload.(ReadTranscriptPayload)
		if !ok {
			return fmt.Errorf("invalid payload for %s", req.Op)
		}
		entries, err := w.readTranscript(p.SessionID, p.Limit)
		if err == nil {
			req.Response <- entries
		}
		return err
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func (w *Worker) appendTranscript(p AppendTranscriptPayload) error {
	path, err := TranscriptPath(w.root, p.SessionID)
	if err != nil {
		return err
	}

	if err := w.checkAndRotate(p.SessionID, path); err != nil {
		slog.Warn("Failed to rotate transcript", "session", p.SessionID, "error", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range p.Entries {
		if err := enc.Encode(entry); err != nil {
			return sitewiseErrors.Wrap(err, "encode transcript entry")
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	return w.touchSession(p.SessionID, p.Touch)
}

func (w *Worker) touchSession(id string, touch SessionTouch) error {
	now := time.Now().UTC()
	meta, ok := w.sessionIndex.Sessions[id]
	if !ok {
		meta = SessionMeta{ID: id, CreatedAt: now}
	}
	if meta.Title == "" {
		meta.Title = touch.Title
	}
	if touch.Model != "" {
		meta.Model = touch.Model
	}
	if touch.RunID != "" {
		meta.LastRunID = touch.RunID
	}
	if touch.NewRun {
		meta.Runs++
	}
	meta.Steps += touch.Steps
	for k, v := range touch.Metadata {
		if meta.Metadata == nil {
			meta.Metadata = make(map[string]string)
		}
		meta.Metadata[k] = v
	}
	meta.UpdatedAt = now

	w.sessionIndex.Sessions[id] = meta
	return w.saveSessionIndex()
}

func (w *Worker) listSessions() []SessionMeta {
	sessions := make([]SessionMeta, 0, len(w.sessionIndex.Sessions))
	for _, meta := range w.sessionIndex.Sessions {
		sessions = append(sessions, meta)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions
}

func (w *Worker) readTranscript(sessionID string, limit int) ([]TranscriptEntry, error) {
	path, err := TranscriptPath(w.root, sessionID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []TranscriptEntry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	entries := []TranscriptEntry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("Skipping malformed transcript line", "session", sessionID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:], nil
	}
	return entries, nil
}

func (w *Worker) upsertVector(p UpsertVectorPayload) error {
	if len(p.Document.Vector) == 0 {
		return sitewiseErrors.InvalidInput("document has no embedding")
	}
	col, err := w.vectorDB.GetOrCreateCollection(p.Collection, nil, nil)
	if err != nil {
		return err
	}
	// AddDocuments is upsert in chromem
	return col.AddDocuments(context.Background(), []chromem.Document{
		{
			ID:        p.Document.ID,
			Metadata:  p.Document.Metadata,
			Embedding: p.Document.Vector,
			Content:   p.Document.Content,
		},
	}, 1)
}

func (w *Worker) searchVectors(p SearchVectorsPayload) ([]VectorResult, error) {
	col := w.vectorDB.GetCollection(p.Collection, nil)
	if col == nil {
		return []VectorResult{}, nil
	}

	limit := p.Limit
	if count := col.Count(); limit <= 0 || limit > count {
		limit = count
	}
	if limit == 0 {
		return []VectorResult{}, nil
	}

	docs, err := col.QueryEmbedding(context.Background(), p.Vector, limit, nil, nil)
	if err != nil {
		return nil, err
	}

	results := make([]VectorResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, VectorResult{
			ID:       doc.ID,
			Score:    doc.Similarity,
			Metadata: doc.Metadata,
			Content:  doc.Content,
		})
	}
	return results, nil
}

func (w *Worker) saveSessionIndex() error {
	data, err := json.MarshalIndent(w.sessionIndex, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(SessionIndexPath(w.root), bytes.NewReader(data))
}

func (w *Worker) resetSession(sessionID string) error {
	path, err := TranscriptPath(w.root, sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	backups, _ := filepath.Glob(path + ".*.bak")
	for _, b := range backups {
		if err := os.Remove(b); err != nil {
			slog.Warn("Failed to remove transcript backup", "path", b, "error", err)
		}
	}
	delete(w.sessionIndex.Sessions, sessionID)
	return w.saveSessionIndex()
}

func (w *Worker) checkAndRotate(sessionID, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.Size() < w.transcriptRotateMaxBytes {
		return nil
	}

	slog.Info("Rotating transcript", "session", sessionID, "size", info.Size())

	backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102150405.000000000"))
	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

// submit hands req to the worker and waits for its result.
func (w *Worker) submit(ctx context.Context, op Operation, payload interface{}) (interface{}, error) {
	req := Request{
		Op:       op,
		Payload:  payload,
		Result:   make(chan error, 1),
		Response: make(chan interface{}, 1),
	}

	select {
	case w.inbox <- req:
	case <-w.quit:
		return nil, sitewiseErrors.Conflict("store worker stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-req.Result:
		if err != nil {
			return nil, err
		}
	case <-w.quit:
		return nil, sitewiseErrors.Conflict("store worker stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case val := <-req.Response:
		return val, nil
	default:
		return nil, nil
	}
}

// Public API for other components

func (w *Worker) AppendTranscript(ctx context.Context, sessionID string, entries []TranscriptEntry, touch SessionTouch) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	_, err := w.submit(ctx, OpAppendTranscript, AppendTranscriptPayload{SessionID: sessionID, Entries: entries, Touch: touch})
	return err
}

func (w *Worker) ResetSession(ctx context.Context, sessionID string) error {
	_, err := w.submit(ctx, OpResetSession, sessionID)
	return err
}

func (w *Worker) GetSession(ctx context.Context, sessionID string) (*SessionMeta, error) {
	val, err := w.submit(ctx, OpGetSession, sessionID)
	if err != nil {
		return nil, err
	}
	return val.(*SessionMeta), nil
}

// ListSessions returns the indexed sessions, most recently updated first.
func (w *Worker) ListSessions(ctx context.Context) ([]SessionMeta, error) {
	val, err := w.submit(ctx, OpListSessions, nil)
	if err != nil {
		return nil, err
	}
	return val.([]SessionMeta), nil
}

func (w *Worker) ReadTranscript(ctx context.Context, sessionID string, limit int) ([]TranscriptEntry, error) {
	val, err := w.submit(ctx, OpReadTranscript, ReadTranscriptPayload{SessionID: sessionID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return val.([]TranscriptEntry), nil
}

func (w *Worker) UpsertVector(ctx context.Context, collection string, doc Document) error {
	_, err := w.submit(ctx, OpUpsertVector, UpsertVectorPayload{Collection: collection, Document: doc})
	return err
}

func (w *Worker) SearchVectors(ctx context.Context, collection string, vector []float32, limit int) ([]VectorResult, error) {
	val, err := w.submit(ctx, OpSearchVectors, SearchVectorsPayload{Collection: collection, Vector: vector, Limit: limit})
	if err != nil {
		return nil, err
	}
	return val.([]VectorResult), nil
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		w.wg.Wait()

		if w.fileLock.IsLocked() {
			w.fileLock.Unlock()
		}
	})
}

func (w *Worker) IsLockHeld() bool {
	return w.fileLock.IsLocked()
}

func (w *Worker) IsRunning() bool {
	return w.fileLock.IsLocked() && w.running.Load()
}
