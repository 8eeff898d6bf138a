package portal

import "errors"

// The driver never leaks DOM detail; everything it cannot do surfaces as one
// of these, optionally wrapped with context.
var (
	ErrNotFound        = errors.New("portal: not found")
	ErrTimeout         = errors.New("portal: timed out waiting for state")
	ErrUnexpectedState = errors.New("portal: unexpected state")
	ErrAuthFailed      = errors.New("portal: authentication failed")
	ErrNavigation      = errors.New("portal: navigation failed")
)
