package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortLockConfig(timeout time.Duration) *FileLockConfig {
	retry := 10 * time.Millisecond
	maxRetry := int(timeout / retry)
	if maxRetry < 1 {
		maxRetry = 1
	}
	return &FileLockConfig{
		LockTimeout:  timeout,
		LockRetry:    retry,
		LockMaxRetry: maxRetry,
	}
}

func TestFileLockAcquireAndUnlock(t *testing.T) {
	root := t.TempDir()

	lock, err := NewFileLock(root, nil)
	require.NoError(t, err)
	assert.True(t, lock.IsLocked())
	assert.FileExists(t, filepath.Join(root, lockFileName))

	lock.Unlock()
	assert.False(t, lock.IsLocked())

	lock.Unlock()
	assert.False(t, lock.IsLocked())
}

func TestFileLockSecondHolderFails(t *testing.T) {
	root := t.TempDir()
	cfg := shortLockConfig(200 * time.Millisecond)

	first, err := NewFileLock(root, cfg)
	require.NoError(t, err)
	defer first.Unlock()

	second, err := NewFileLock(root, cfg)
	if err == nil {
		second.Unlock()
	}
	require.Error(t, err)
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrConflict))
}

func TestFileLockRetriesBeforeFailing(t *testing.T) {
	root := t.TempDir()
	cfg := shortLockConfig(120 * time.Millisecond)

	first, err := NewFileLock(root, cfg)
	require.NoError(t, err)
	defer first.Unlock()

	start := time.Now()
	_, err = NewFileLock(root, cfg)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestFileLockReleasedLockCanBeReacquired(t *testing.T) {
	root := t.TempDir()
	cfg := shortLockConfig(100 * time.Millisecond)

	first, err := NewFileLock(root, cfg)
	require.NoError(t, err)
	first.Unlock()

	second, err := NewFileLock(root, cfg)
	require.NoError(t, err)
	second.Unlock()
}

func TestFileLockHeldDuration(t *testing.T) {
	lock, err := NewFileLock(t.TempDir(), nil)
	require.NoError(t, err)
	defer lock.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.GreaterOrEqual(t, lock.HeldDuration(), 20*time.Millisecond)
}

func TestFileLockBlocksRawFlock(t *testing.T) {
	root := t.TempDir()

	lock, err := NewFileLock(root, nil)
	require.NoError(t, err)
	defer lock.Unlock()

	raw := flock.New(filepath.Join(root, lockFileName))
	locked, err := raw.TryLock()
	require.NoError(t, err)
	if locked {
		raw.Unlock()
	}
	assert.False(t, locked)
}

func TestFileLockExclusiveUnderContention(t *testing.T) {
	root := t.TempDir()
	cfg := shortLockConfig(500 * time.Millisecond)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
		current  int
		peak     int
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			lock, err := NewFileLock(root, cfg)
			if err != nil {
				return
			}
			defer lock.Unlock()

			mu.Lock()
			acquired++
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Greater(t, acquired, 0)
	assert.Equal(t, 1, peak)
}

func TestCleanupStaleLocks(t *testing.T) {
	root := t.TempDir()
	lockPath := filepath.Join(root, lockFileName)
	require.NoError(t, os.WriteFile(lockPath, []byte("stale"), 0644))

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(lockPath, stale, stale))

	require.NoError(t, CleanupStaleLocks(root, 5*time.Minute, false))
	assert.FileExists(t, lockPath)

	require.NoError(t, CleanupStaleLocks(root, 5*time.Minute, true))
	assert.NoFileExists(t, lockPath)

	lock, err := NewFileLock(root, shortLockConfig(200*time.Millisecond))
	require.NoError(t, err)
	lock.Unlock()
}
