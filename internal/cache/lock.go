package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
)

// StaleLockAge is how old a lock file must be before another process may
// take it over.
const StaleLockAge = 10 * time.Second

var errLocked = errors.New("cache locked by another process")

// fileLock is a cooperative lock held by creating a file exclusively. The
// file carries a random owner token so that only the owner removes it.
type fileLock struct {
	path  string
	token string
	stale time.Duration
	retry retry.Config
	now   func() time.Time
}

func newFileLock(path string, now func() time.Time) *fileLock {
	return &fileLock{
		path:  path,
		stale: StaleLockAge,
		retry: retry.Config{
			MaxAttempts:   6,
			InitialDelay:  20 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
			// Only contention is worth waiting for.
			RetryableErrors: []error{errLocked},
		},
		now: now,
	}
}

func (l *fileLock) acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("acquire %s: %w", l.path, err)
	}
	token := uuid.NewString()
	r := retry.New[struct{}](l.retry)
	_, err := r.Do(ctx, func(context.Context) (struct{}, error) {
		return struct{}{}, l.tryAcquire(token)
	})
	if err != nil {
		return fmt.Errorf("acquire %s: %w", l.path, err)
	}
	l.token = token
	return nil
}

func (l *fileLock) tryAcquire(token string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, werr := f.WriteString(token)
		cerr := f.Close()
		return errors.Join(werr, cerr)
	}
	if !errors.Is(err, os.ErrExist) {
		return err
	}
	info, serr := os.Stat(l.path)
	if serr == nil && l.now().Sub(info.ModTime()) > l.stale {
		// Holder died; remove and let the next attempt take it.
		_ = os.Remove(l.path)
	}
	return errLocked
}

func (l *fileLock) release() {
	if l.token == "" {
		return
	}
	data, err := os.ReadFile(l.path)
	if err == nil && strings.TrimSpace(string(data)) == l.token {
		_ = os.Remove(l.path)
	}
	l.token = ""
}
