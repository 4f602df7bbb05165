// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Inference errors.
	ErrEngineUnavailable = errors.New("no embedding strategy available")
	ErrNotTrained        = errors.New("model not trained")

	// Training errors.
	ErrInsufficientData = errors.New("insufficient training data")

	// Artifact errors.
	ErrArtifactMissing = errors.New("artifact missing")
	ErrInvalidArtifact = errors.New("invalid artifact")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// InsufficientData reports how many usable rows training found against the required minimum.
func InsufficientData(what string, have, need int) error {
	return fmt.Errorf("%w: need at least %d %s, have %d", ErrInsufficientData, need, what, have)
}
