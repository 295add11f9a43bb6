package store

import (
	"time"

	"github.com/harunnryd/sitewise/internal/model/contract"
)

// --- Session Index (sessions/index.json) ---

type SessionMeta struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Model     string            `json:"model,omitempty"`
	LastRunID string            `json:"last_run_id,omitempty"`
	Runs      int               `json:"runs"`
	Steps     int               `json:"steps"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type SessionIndex struct {
	Sessions map[string]SessionMeta `json:"sessions"`
}

// --- Transcript (sessions/<id>.jsonl) ---

type TranscriptEntry struct {
	ID         string               `json:"id"` // ULID
	Timestamp  time.Time            `json:"ts"`
	RunID      string               `json:"run_id"`
	Step       int                  `json:"step"`
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	Name       string               `json:"name,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolCalls  []*contract.ToolCall `json:"tool_calls,omitempty"`
	Meta       map[string]any       `json:"meta,omitempty"` // usage, finish reason
}

// --- Vectors ---

type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

type VectorResult struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Content  string            `json:"content"`
}
