package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and "~/" home shortcuts.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := resolveHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(expanded, "~"), "/"))
	}

	return filepath.Clean(expanded), nil
}

// EnsureDirs creates every directory in dirs with private permissions.
func EnsureDirs(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create dir %s: %w", d, err)
		}
	}
	return nil
}

func resolveHomeDir() (string, error) {
	candidates := []func() string{
		func() string {
			home, _ := os.UserHomeDir()
			return home
		},
		func() string {
			if current, err := user.Current(); err == nil {
				return current.HomeDir
			}
			return ""
		},
	}
	for _, candidate := range candidates {
		if home := strings.TrimSpace(candidate()); isResolved(home) {
			return home, nil
		}
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
}

func isResolved(home string) bool {
	return home != "" && home != "~" && !strings.HasPrefix(home, "~/")
}
