package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy callers branch on. Storage-layer failures
// are wrapped with %w and propagate verbatim; they have no sentinel.
var (
	// ErrInvalidKind rejects a malformed event kind at the boundary.
	ErrInvalidKind = errors.New("invalid event kind")

	// ErrInvalidCategory rejects a malformed fact category at the boundary.
	ErrInvalidCategory = errors.New("invalid fact category")

	// ErrPermissionDenied is returned for FULL-tier access without the
	// escalation flag. The only error expected to reach an end user.
	ErrPermissionDenied = errors.New("permission denied: full recall requires escalation flag")

	// ErrClaimLost signals a concurrent worker won the claim race. Callers
	// simply retry ClaimNext; never user-visible.
	ErrClaimLost = errors.New("claim race lost")

	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
)

func validationErr(sentinel error, got string) error {
	return fmt.Errorf("%w: %q", sentinel, got)
}
