package store

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/orchestrator"

	"github.com/oklog/ulid/v2"
)

const (
	recordTimeout  = 10 * time.Second
	titleMaxLength = 60
)

// Recorder appends finished steps to the session transcript. Runs without a session id are
// recorded under their run id.
type Recorder struct {
	worker *Worker
}

func NewRecorder(worker *Worker) *Recorder {
	return &Recorder{worker: worker}
}

func (r *Recorder) OnStep(ctx context.Context, report orchestrator.StepReport) {
	sessionID := report.SessionID
	if sessionID == "" {
		sessionID = report.RunID
	}
	log := slog.With("run_id", report.RunID, "session_id", sessionID, "step", report.Step.Index)

	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	entries := make([]TranscriptEntry, 0, len(report.Messages))
	touch := SessionTouch{
		Model:  report.Model,
		RunID:  report.RunID,
		NewRun: report.Step.Index == 1,
		Steps:  1,
	}

	for _, msg := range report.Messages {
		if msg.Role == contract.RoleSystem {
			continue
		}
		if touch.Title == "" && msg.Role == contract.RoleUser {
			touch.Title = titleFrom(msg.Content)
		}

		entry := TranscriptEntry{
			ID:         ulid.Make().String(),
			Timestamp:  report.EndedAt.UTC(),
			RunID:      report.RunID,
			Step:       report.Step.Index,
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
			ToolCalls:  msg.ToolCalls,
		}
		if msg.Role == contract.RoleAssistant {
			entry.Meta = stepMeta(report)
		}
		entries = append(entries, entry)
	}

	if err := r.worker.AppendTranscript(ctx, sessionID, entries, touch); err != nil {
		log.Warn("Failed to record step", "error", err)
		return
	}
	log.Debug("Step recorded", "entries", len(entries))
}

func stepMeta(report orchestrator.StepReport) map[string]any {
	meta := map[string]any{
		"finish_reason": report.Step.FinishReason,
		"duration_ms":   report.EndedAt.Sub(report.StartedAt).Milliseconds(),
	}
	if report.Final {
		meta["final"] = true
	}
	if report.Fallback {
		meta["fallback"] = true
	}
	if u := report.Step.Usage; u != nil {
		meta["usage"] = u
	}
	return meta
}

func titleFrom(content string) string {
	if utf8.RuneCountInString(content) <= titleMaxLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxLength]) + "..."
}
