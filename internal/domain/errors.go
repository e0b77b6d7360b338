package domain

import "errors"

var (
	// ErrNotFound is returned by store lookups that find no row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord marks a provider record with nothing to match on
	// (missing name). Raised before any collaborator call.
	ErrInvalidRecord = errors.New("invalid provider record")

	// ErrSlugExhausted means slug disambiguation ran past its retry cap.
	// That is a systemic slug-generation problem, not a legitimate collision.
	ErrSlugExhausted = errors.New("slug suffix retries exhausted")

	// ErrDuplicateSlug is surfaced by the store when an insert loses a
	// check-then-insert race on the slug unique index. The factory retries
	// with the next numeric suffix.
	ErrDuplicateSlug = errors.New("duplicate slug")
)
