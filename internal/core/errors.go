package core

import (
	"errors"

	"clausex.com/clause-qa/internal/index"
)

var (
	// ErrProvider marks embedding or generation API failures (network, quota, auth).
	ErrProvider = errors.New("provider error")
	// ErrIndexUnavailable marks a clause index that is missing, corrupt or not loaded.
	ErrIndexUnavailable = index.ErrUnavailable
	// ErrStore marks relational read/write failures.
	ErrStore = errors.New("store error")
	// ErrValidation marks bad client input. Match it with errors.Is; use errors.As with
	// *ValidationError to get the client-facing message.
	ErrValidation = errors.New("validation error")
)

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
