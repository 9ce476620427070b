package domain

import "errors"

var (
	// ErrInvalidArgument covers malformed or out-of-range input: negative
	// token amounts, TTLs below MIN_TTL, an approval limit below already-
	// used credit, tokens supplied alongside a delegated call.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrForbidden covers authorization failures: no storage capacity,
	// missing or expired approval, authorization mismatch on delete,
	// renewal of a failed blob.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers lookups against absent accounts, subscriptions,
	// or blobs where the operation does not define idempotent no-op
	// behavior for the missing case.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientCredit covers credit/token shortfalls: free balance
	// below requirement, approval limit exhausted, tokens short of cost.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrIllegalState covers terminal-state violations (finalizing an
	// Added blob) and defensive index-consistency checks.
	ErrIllegalState = errors.New("illegal state")
)
