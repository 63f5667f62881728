package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrClientClosed marks operations attempted against a peer client that
	// has been torn down. Workers treat it as transient: the record stays
	// pending and the rebuilt client re-drives it.
	ErrClientClosed = errors.New("peer client closed")
)
