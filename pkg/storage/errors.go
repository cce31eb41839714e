package storage

import (
	"errors"
)

var (
	// ErrCollision if a document with the same identity was written twice in
	// one request.
	ErrCollision = errors.New("item already exists")

	// ErrNotFound if a backend has no entry for a key.
	ErrNotFound = errors.New("not found")

	// ErrUnknownBackend if an entity names a backend that is not registered.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrInvalidRange if a range is not a pair of ordered non-negative
	// positions.
	ErrInvalidRange = errors.New("invalid range")

	// ErrCorruptDocument if a stored document cannot be decoded.
	ErrCorruptDocument = errors.New("stored document cannot be decoded")
)
