package domain

import "errors"

// Error classes shared by every component. Wrap them with fmt.Errorf("...: %w")
// and classify with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid request")
	ErrUpstream = errors.New("upstream failure")
)
