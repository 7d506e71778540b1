package domain

import "errors"

// Sentinel errors shared across repository implementations and handlers.
// Wrap with fmt.Errorf("...: %w", err) to add context; match with errors.Is.
var (
	// ErrNotFound is returned when a record does not exist or belongs to
	// another tenant. Cross-tenant reads never reveal existence.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed or incomplete caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a uniqueness or state constraint is violated,
	// e.g. a duplicate profile for a fiscal year or publishing a non-draft rule set.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized is returned for missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrNoActiveRuleSet is returned when a fiscal year has no active rule set.
	// Evaluation cannot proceed without one.
	ErrNoActiveRuleSet = errors.New("no active rule set for fiscal year")
)
