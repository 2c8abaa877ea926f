package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRef is returned for an empty artifact reference.
	ErrEmptyRef = errors.New("models: empty reference")

	// ErrUnsupportedScheme is returned for unknown URL schemes.
	ErrUnsupportedScheme = errors.New("models: unsupported scheme")

	// ErrEmptyArtifact is returned when an artifact has no content.
	ErrEmptyArtifact = errors.New("models: artifact is empty")

	// ErrTooLarge is returned when an artifact exceeds the size cap.
	ErrTooLarge = errors.New("models: artifact too large")
)

// FetchError wraps a failure to retrieve an artifact.
type FetchError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("models: fetch %s: %v", e.Ref, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}
