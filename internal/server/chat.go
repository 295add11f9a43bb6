package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/logger"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/orchestrator"
	"github.com/harunnryd/sitewise/internal/store"
)

const (
	ndjsonContentType = "application/x-ndjson"

	// IdempotencyKeyHeader makes a non-streaming chat replayable. Streaming requests ignore it.
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
)

type ChatRequest struct {
	SessionID string             `json:"session_id,omitempty"`
	Model     string             `json:"model,omitempty"`
	Messages  []contract.Message `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
}

// StreamLine is one NDJSON line of a streamed chat. Generation events are written as-is;
// the last line has type "result" or "error".
type StreamLine struct {
	Type      string                  `json:"type"`
	Result    *orchestrator.RunResult `json:"result,omitempty"`
	ErrorKind string                  `json:"error_kind,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, sitewiseErrors.InvalidInput(fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	if err := validateChat(&req); err != nil {
		writeError(w, err)
		return
	}

	controller, err := s.engine.Controller(req.Model)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if req.SessionID != "" {
		release, err := s.locks.Acquire(ctx, req.SessionID)
		if err != nil {
			return
		}
		defer release()
		ctx = logger.WithSessionID(ctx, req.SessionID)
	}

	if req.Stream {
		s.streamChat(ctx, w, controller, req.Messages)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" || s.idempotency == nil {
		result, err := controller.Run(ctx, req.Messages)
		if err != nil {
			logger.From(ctx).Warn("Chat failed", "kind", sitewiseErrors.Kind(err), "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}
	s.idempotentChat(ctx, w, key, controller, req.Messages)
}

// idempotentChat replays the stored response of key, or runs the chat and stores its result.
// Failed runs are not stored.
func (s *Server) idempotentChat(ctx context.Context, w http.ResponseWriter, key string, controller *orchestrator.FallbackController, messages []contract.Message) {
	if !requestIDPattern.MatchString(key) {
		writeError(w, sitewiseErrors.InvalidInput("malformed Idempotency-Key"))
		return
	}
	if s.replay(w, key) {
		return
	}
	if s.idempotency.CheckAndMark(key, s.idempotencyTTL) {
		if s.replay(w, key) {
			return
		}
		writeError(w, sitewiseErrors.Conflict(fmt.Sprintf("request with idempotency key %s is in progress", key)))
		return
	}

	result, err := controller.Run(ctx, messages)
	if err != nil {
		s.idempotency.Release(key)
		logger.From(ctx).Warn("Chat failed", "kind", sitewiseErrors.Kind(err), "error", err)
		writeError(w, err)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		s.idempotency.Release(key)
		writeError(w, sitewiseErrors.Internal(fmt.Sprintf("encode result: %v", err)))
		return
	}
	if err := s.idempotency.Complete(key, body); err != nil {
		logger.From(ctx).Warn("Failed to persist idempotency record", "key", key, "error", err)
	}
	writeJSON(w, http.StatusOK, json.RawMessage(body))
}

func (s *Server) replay(w http.ResponseWriter, key string) bool {
	cached, ok := s.idempotency.Lookup(key)
	if !ok {
		return false
	}
	w.Header().Set(IdempotentReplayedHeader, "true")
	writeJSON(w, http.StatusOK, cached)
	return true
}

func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, controller *orchestrator.FallbackController, messages []contract.Message) {
	rs := controller.Stream(ctx, messages)
	defer rs.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", ndjsonContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	write := func(v interface{}) bool {
		if err := enc.Encode(v); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for ev := range rs.Events() {
		if !write(ev) {
			return
		}
	}

	result, err := rs.Result()
	if err != nil {
		logger.From(ctx).Warn("Chat stream failed", "kind", sitewiseErrors.Kind(err), "error", err)
		write(StreamLine{Type: "error", ErrorKind: sitewiseErrors.Kind(err), Error: err.Error()})
		return
	}
	write(StreamLine{Type: "result", Result: result})
}

func validateChat(req *ChatRequest) error {
	if len(req.Messages) == 0 {
		return sitewiseErrors.InvalidInput("messages must not be empty")
	}
	if req.SessionID != "" {
		if err := store.ValidateSessionID(req.SessionID); err != nil {
			return err
		}
	}
	for i, m := range req.Messages {
		switch m.Role {
		case contract.RoleSystem, contract.RoleUser, contract.RoleAssistant:
		case contract.RoleTool:
			if m.ToolCallID == "" {
				return sitewiseErrors.InvalidInput(fmt.Sprintf("messages[%d]: tool message needs tool_call_id", i))
			}
		default:
			return sitewiseErrors.InvalidInput(fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role))
		}
	}
	if strings.TrimSpace(req.Messages[len(req.Messages)-1].Content) == "" && req.Messages[len(req.Messages)-1].Role == contract.RoleUser {
		return sitewiseErrors.InvalidInput("last user message is empty")
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return 499
	case sitewiseErrors.IsCategory(err, sitewiseErrors.ErrInvalidInput),
		sitewiseErrors.IsCategory(err, sitewiseErrors.ErrProviderUnsupportedFeature):
		return http.StatusBadRequest
	case sitewiseErrors.IsCategory(err, sitewiseErrors.ErrNotFound):
		return http.StatusNotFound
	case sitewiseErrors.IsCategory(err, sitewiseErrors.ErrConflict):
		return http.StatusConflict
	case sitewiseErrors.IsCategory(err, sitewiseErrors.ErrTimeout):
		return http.StatusGatewayTimeout
	case sitewiseErrors.IsCategory(err, sitewiseErrors.ErrNetwork),
		sitewiseErrors.IsCategory(err, sitewiseErrors.ErrProvider),
		sitewiseErrors.IsCategory(err, sitewiseErrors.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := sitewiseErrors.Kind(err)
	if kind == "" {
		kind = "InternalError"
	}
	writeJSON(w, statusFor(err), errorResponse{Error: errorBody{Kind: kind, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
