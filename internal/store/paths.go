package store

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/pathutil"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ResolveRoot expands the configured store path, falling back to the default location.
func ResolveRoot(path string) (string, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return pathutil.Expand(trimmed)
	}
	return pathutil.Expand(config.DefaultStorePath)
}

func SessionsDir(root string) string {
	return filepath.Join(root, "sessions")
}

func VectorsDir(root string) string {
	return filepath.Join(root, "vectors")
}

func SessionIndexPath(root string) string {
	return filepath.Join(SessionsDir(root), "index.json")
}

func LockPath(root string) string {
	return filepath.Join(root, lockFileName)
}

// IdempotencyPath is where the HTTP server keeps replayable chat responses.
func IdempotencyPath(root string) string {
	return filepath.Join(root, "idempotency.json")
}

// TranscriptPath returns the JSONL transcript of a session.
func TranscriptPath(root, sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(SessionsDir(root), sessionID+".jsonl"), nil
}

// ValidateSessionID rejects ids that could escape the sessions directory.
func ValidateSessionID(sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) || strings.Contains(sessionID, "..") {
		return sitewiseErrors.InvalidInput(fmt.Sprintf("invalid session id %q", sessionID))
	}
	return nil
}
