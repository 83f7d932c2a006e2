package kbModel

import "errors"

// Error taxonomy. TransientIO is the only retryable class - everything else
// is surfaced as the terminal outcome of the job or request that hit it.
var (
	ErrTransientIO       = errors.New("transient io failure")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrBlobUnavailable   = errors.New("blob unavailable")
	ErrKeyInactive       = errors.New("api key inactive")
	ErrScopeMismatch     = errors.New("scope mismatch")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("status conflict")
	ErrCancelled         = errors.New("cancelled by concurrent deletion")
)

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}
