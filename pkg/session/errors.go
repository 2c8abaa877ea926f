package session

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-emotion/pkg/capture"
)

// Sentinel errors for common error conditions.
var (
	// ErrBusy is returned when Open is called on a session that is not idle.
	ErrBusy = errors.New("session: already open")

	// ErrRetryNotAllowed is returned when Retry is called outside a
	// retryable camera failure.
	ErrRetryNotAllowed = errors.New("session: retry is only possible after a camera permission failure")

	// ErrClosed is returned when the session is closed while opening.
	ErrClosed = errors.New("session: closed")

	// ErrMissingLoader is returned by New when a required loader is nil.
	ErrMissingLoader = errors.New("session: detector loader and camera opener are required")
)

// ModelLoadMessage is shown when the face detector cannot be loaded.
const ModelLoadMessage = "Failed to load AI models. Please check your connection and try again."

// FailureKind names a session-establishing failure.
type FailureKind string

const (
	FailureModelLoad        FailureKind = "model_load"
	FailureCameraPermission FailureKind = "camera_permission_denied"
	FailureCameraNotFound   FailureKind = "camera_not_found"
	FailureCameraInUse      FailureKind = "camera_in_use"
	FailureCameraUnknown    FailureKind = "camera_unknown"
)

// Failure is a blocking error surfaced to the operator.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("session: %s: %v", f.Kind, f.Err)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether Retry may be attempted.
func (f *Failure) Retryable() bool {
	return f.Kind == FailureCameraPermission
}

func modelFailure(err error) *Failure {
	return &Failure{Kind: FailureModelLoad, Message: ModelLoadMessage, Err: err}
}

func cameraFailure(err error) *Failure {
	ce := capture.Classify("", err)
	kind := FailureCameraUnknown
	switch ce.Kind {
	case capture.KindPermissionDenied:
		kind = FailureCameraPermission
	case capture.KindNotFound:
		kind = FailureCameraNotFound
	case capture.KindInUse:
		kind = FailureCameraInUse
	}
	return &Failure{Kind: kind, Message: ce.Kind.Message(), Err: ce}
}
