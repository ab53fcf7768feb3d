package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (wrapped with
// context) and services translate them into domain outcomes.
//
//   - ErrNotFound: no record under the given key
//   - ErrConflict: a concurrent writer changed the record first
//   - ErrExpired: the record is past its expiry
//   - ErrAlreadyUsed: a single-use record was already consumed
//   - ErrMismatch: a presented secret or binding did not match the record
//   - ErrLimitExceeded: the record exhausted its attempt budget
//   - ErrInvalidState: the record is in the wrong state for the operation
//   - ErrUnavailable: the backing system could not be reached
//
// Input validation failures use pkg/domain-errors instead.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrExpired       = errors.New("expired")
	ErrAlreadyUsed   = errors.New("already used")
	ErrMismatch      = errors.New("mismatch")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
