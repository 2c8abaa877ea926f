package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoFrame is returned when a source stops before producing a frame.
	ErrNoFrame = errors.New("capture: no frame received")

	// ErrUnsupported is returned for drivers unavailable on this platform.
	ErrUnsupported = errors.New("capture: driver not supported on this platform")

	// ErrNoPendingSource is returned when a browser offer arrives with no
	// session waiting for a camera.
	ErrNoPendingSource = errors.New("capture: no session is waiting for a browser camera")

	// ErrUnknownDriver is returned for unrecognised driver names.
	ErrUnknownDriver = errors.New("capture: unknown driver")
)

// ErrorKind classifies camera acquisition failures. Each kind maps to its own
// operator-facing message and retry policy.
type ErrorKind int

const (
	// KindUnknown is any failure not covered below.
	KindUnknown ErrorKind = iota
	// KindPermissionDenied means the user or OS refused camera access.
	KindPermissionDenied
	// KindNotFound means no matching camera exists.
	KindNotFound
	// KindInUse means another application holds the camera.
	KindInUse
)

// String returns the machine-readable kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindInUse:
		return "in_use"
	default:
		return "unknown"
	}
}

// Message returns the operator-facing explanation for the kind.
func (k ErrorKind) Message() string {
	switch k {
	case KindPermissionDenied:
		return "Camera access was denied. Allow camera access in your browser or system settings, then try again."
	case KindNotFound:
		return "No camera was found. Connect a camera and reopen the demo."
	case KindInUse:
		return "The camera is already in use by another application. Close that application and reopen the demo."
	default:
		return "The camera could not be started. Check your device and reopen the demo."
	}
}

// Retryable reports whether retrying in place can succeed. Only a permission
// refusal can be fixed without closing the session.
func (k ErrorKind) Retryable() bool {
	return k == KindPermissionDenied
}

// CameraError is a classified camera acquisition failure.
type CameraError struct {
	Kind   ErrorKind
	Device string
	Err    error
}

// Error implements the error interface.
func (e *CameraError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("capture [%s]: %s: %v", e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *CameraError) Unwrap() error {
	return e.Err
}

// Classify wraps err as a CameraError, deriving the kind from OS error codes.
// An existing CameraError is returned unchanged.
func Classify(device string, err error) *CameraError {
	if err == nil {
		return nil
	}
	var ce *CameraError
	if errors.As(err, &ce) {
		return ce
	}
	return &CameraError{Kind: kindOf(err), Device: device, Err: err}
}

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ENOENT),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENXIO),
		errors.Is(err, ErrUnsupported):
		return KindNotFound
	case errors.Is(err, syscall.EBUSY):
		return KindInUse
	default:
		return KindUnknown
	}
}

// BrowserError is a getUserMedia failure reported by the operator's browser.
type BrowserError struct {
	Name    string
	Message string
}

// Error implements the error interface.
func (e *BrowserError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// FromBrowser classifies a getUserMedia DOMException by name.
func FromBrowser(name, message string) *CameraError {
	kind := KindUnknown
	switch name {
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		kind = KindPermissionDenied
	case "NotFoundError", "DevicesNotFoundError", "OverconstrainedError", "ConstraintNotSatisfiedError":
		kind = KindNotFound
	case "NotReadableError", "TrackStartError", "AbortError":
		kind = KindInUse
	}
	return &CameraError{Kind: kind, Device: "browser", Err: &BrowserError{Name: name, Message: message}}
}
