package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/sitewise/internal/config"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"

	"github.com/gofrs/flock"
)

const lockFileName = "store.lock"

// FileLock keeps a single process writing to a store directory.
type FileLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func DefaultFileLockConfig() *FileLockConfig {
	lockTimeout, _ := config.DurationOrDefault(config.DefaultStoreLockTimeout, config.DefaultStoreLockTimeout)
	lockRetry, _ := config.DurationOrDefault(config.DefaultStoreLockRetry, config.DefaultStoreLockRetry)

	return &FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: config.DefaultStoreLockMaxRetry,
	}
}

func NewFileLock(root string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		cfg = DefaultFileLockConfig()
	}

	lockPath := filepath.Join(root, lockFileName)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.LockTimeout)

	fl := &FileLock{
		fileLock: flock.New(lockPath),
		lockPath: lockPath,
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := fl.acquireWithRetry(cfg); err != nil {
		cancel()
		return nil, err
	}

	fl.acquiredAt = time.Now()
	slog.Debug("Store lock acquired", "path", lockPath)
	return fl, nil
}

func (fl *FileLock) acquireWithRetry(cfg *FileLockConfig) error {
	attempts := cfg.LockMaxRetry
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		select {
		case <-fl.ctx.Done():
			return sitewiseErrors.WrapWithCategory(fl.ctx.Err(), "store lock acquisition cancelled", sitewiseErrors.ErrConflict)
		default:
		}

		locked, err := fl.fileLock.TryLock()
		if err != nil {
			return sitewiseErrors.Wrap(err, "attempt store lock")
		}
		if locked {
			return nil
		}

		if i < attempts-1 {
			time.Sleep(cfg.LockRetry)
		}
	}

	return sitewiseErrors.Conflict(fmt.Sprintf("store %s is locked by another process (timeout after %v)",
		filepath.Dir(fl.lockPath), cfg.LockTimeout))
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		return
	}

	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release store lock", "path", fl.lockPath, "error", err)
	} else {
		slog.Debug("Store lock released", "path", fl.lockPath, "held_ms", time.Since(fl.acquiredAt).Milliseconds())
	}

	if fl.cancel != nil {
		fl.cancel()
	}
	fl.fileLock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.fileLock != nil
}

func (fl *FileLock) HeldDuration() time.Duration {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	if fl.acquiredAt.IsZero() {
		return 0
	}
	return time.Since(fl.acquiredAt)
}

// CleanupStaleLocks removes a lock file older than maxAge when force is set.
func CleanupStaleLocks(root string, maxAge time.Duration, force bool) error {
	lockPath := filepath.Join(root, lockFileName)
	info, err := os.Stat(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	age := time.Since(info.ModTime())
	if age <= maxAge {
		return nil
	}

	slog.Warn("Found stale store lock", "path", lockPath, "age", age)
	if !force {
		return nil
	}

	if err := os.Remove(lockPath); err != nil {
		return sitewiseErrors.Wrap(err, "remove stale store lock")
	}
	slog.Info("Stale store lock removed", "path", lockPath)
	return nil
}
