// Package apperr defines the sentinel errors shared across Perthro layers.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps failures of the local version ledger.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrRemoteUnavailable covers timeouts, network failures and 5xx from
	// the remote script service; recoverable via the local cache.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrRemoteAuth covers authentication/authorization rejections.
	ErrRemoteAuth = errors.New("remote auth failure")
	// ErrRemoteRejected covers other remote-side rejections (4xx).
	ErrRemoteRejected = errors.New("remote rejected request")
	// ErrConfigFetch aborts an upload whose configuration fetch failed.
	ErrConfigFetch = errors.New("configuration fetch failed")
	// ErrNoData means both the remote fetch and the local cache came up empty.
	ErrNoData = errors.New("no data available")
)
