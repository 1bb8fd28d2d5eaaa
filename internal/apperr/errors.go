// Package apperr defines the error taxonomy shared across airules packages.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrRemoteUnavailable marks a non-2xx response or an unreachable remote.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrRemoteTimeout marks a request that hit the client timeout.
	ErrRemoteTimeout = errors.New("remote timeout")

	// ErrParse marks a malformed recipe body. Recoverable: the entry is skipped.
	ErrParse = errors.New("parse error")

	// ErrCacheWriteFailed marks a disk or permission failure while persisting the cache.
	ErrCacheWriteFailed = errors.New("cache write failed")
	// ErrCacheCorrupt marks a metadata/file count mismatch in the cache directory.
	ErrCacheCorrupt = errors.New("cache corrupt")
)
