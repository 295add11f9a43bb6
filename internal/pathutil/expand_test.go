package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("SITEWISE_PATH_TEST", "/tmp/sitewise-path")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "  ", want: ""},
		{in: "~", want: home},
		{in: "~/.sitewise/data", want: filepath.Join(home, ".sitewise", "data")},
		{in: "$SITEWISE_PATH_TEST/data", want: "/tmp/sitewise-path/data"},
		{in: "/var/lib/sitewise/../sitewise", want: "/var/lib/sitewise"},
		{in: "relative/./dir", want: "relative/dir"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Expand(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandWithUnresolvedHomeEnv(t *testing.T) {
	t.Setenv("HOME", "~")

	got, err := Expand("~/.sitewise/data")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.NotEqual(t, byte('~'), got[0])
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	sessions := filepath.Join(root, "sessions")
	vectors := filepath.Join(root, "vectors", "nested")

	require.NoError(t, EnsureDirs(sessions, vectors))
	assert.DirExists(t, sessions)
	assert.DirExists(t, vectors)
	require.NoError(t, EnsureDirs(sessions))
}
