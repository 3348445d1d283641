package domain

import "errors"

// ErrDuplicateTurn reports that a turn with the same idempotency key was
// already persisted for this principal. Callers treat it as "already done",
// not as a write failure.
var ErrDuplicateTurn = errors.New("domain: duplicate turn")
