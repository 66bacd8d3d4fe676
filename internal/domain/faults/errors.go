// Package faults defines the error taxonomy shared by the cache engine.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrStorageCorruption marks a persisted record that cannot be decoded.
	ErrStorageCorruption = errors.New("storage corruption")
	// ErrQuotaExceeded is returned by a storage backend that has no room left.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrNotFound is returned by a storage backend for a missing key.
	ErrNotFound = errors.New("not found")

	// ErrFetchTimeout is a fetch attempt that exceeded its deadline.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrFetchNetwork is any other transport or upstream failure of an attempt.
	ErrFetchNetwork = errors.New("fetch network error")
	// ErrFetchAborted is a fetch cancelled by its caller or by shutdown.
	ErrFetchAborted = errors.New("fetch aborted")

	// ErrNotModified is returned by a fetch capability that honored a
	// conditional-fetch hint and has nothing newer.
	ErrNotModified = errors.New("not modified")

	// ErrConflictResolution wraps a resolver failure; the fresh value is used.
	ErrConflictResolution = errors.New("conflict resolution failed")
	// ErrDependencyUnsatisfied defers a queued sync until its dependencies finish.
	ErrDependencyUnsatisfied = errors.New("dependency unsatisfied")
	// ErrKeyExecuting rejects a sync for a key that is already being fetched.
	ErrKeyExecuting = errors.New("key already executing")
)

// FetchError is the terminal failure of a fetch after all attempts.
type FetchError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Kind returns the taxonomy sentinel for the wrapped cause.
func (e *FetchError) Kind() error { return Classify(e.Err) }

// Classify maps an arbitrary fetch error onto the fetch taxonomy.
// Errors already carrying a sentinel are returned as that sentinel.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotModified):
		return ErrNotModified
	case errors.Is(err, ErrFetchTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrFetchTimeout
	case errors.Is(err, ErrFetchAborted), errors.Is(err, context.Canceled):
		return ErrFetchAborted
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrFetchTimeout
		}
		return ErrFetchNetwork
	}
	return ErrFetchNetwork
}

// IsRetryable reports whether a fetch failure should be attempted again.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotModified) {
		return false
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// PermanentError wraps a fetch failure that retrying cannot fix, such as a
// 404 from the remote API.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
