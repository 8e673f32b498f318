package merger

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Error taxonomy, expressed as sentinels wrapped with containerd/errdefs
// classifiers. internal/dispatcher maps a merger failure to an LDAP result
// code with errors.Is against these sentinels and errors.As for
// RejectedError.

// ErrInvalidCredentials reports an unknown client DN or password mismatch.
var ErrInvalidCredentials = errdefs.PermissionDenied(errors.New("merger: invalid credentials"))

// ErrDirectoryUnavailable reports that the Client Directory's backing
// store failed.
var ErrDirectoryUnavailable = errdefs.Unavailable(errors.New("merger: client directory unavailable"))

// ErrBackendUnavailable reports that at least one backend timed out or
// failed at the transport layer.
var ErrBackendUnavailable = errdefs.Unavailable(errors.New("merger: one or more backends unavailable"))

// RejectedError reports that every backend reached a protocol result but
// at least one was non-success. Code is the first-by-backend-order
// non-zero LDAP result code.
type RejectedError struct {
	Code       int
	Diagnostic string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("merger: backend rejected operation (code %d): %s", e.Code, e.Diagnostic)
}
