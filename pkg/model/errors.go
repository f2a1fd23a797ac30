package model

import "errors"

// Failure classes for artifact loading, parsing and normalization.
// Callers wrap these with fmt.Errorf("...: %w", ...) and classify
// with errors.Is.
var (
	// ErrUnsupportedFormat marks input no parser recognizes.
	ErrUnsupportedFormat = errors.New("unsupported artifact format")
	// ErrParse marks structurally invalid input.
	ErrParse = errors.New("artifact parse error")
	// ErrInvalidResource marks a resource entry with a bad shape.
	ErrInvalidResource = errors.New("invalid resource")
	// ErrMissingField marks an absent required field.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidVersion marks an unrecognized format version.
	ErrInvalidVersion = errors.New("invalid format version")
	// ErrUnsupportedFunction is reserved for intrinsic functions the
	// resolver refuses to expand. Resolution is currently total, so
	// it is never returned.
	ErrUnsupportedFunction = errors.New("unsupported intrinsic function")
	// ErrIO marks a filesystem failure while loading an artifact.
	ErrIO = errors.New("artifact io error")
)

// ClassifyError maps an error chain to a stable class label for API
// payloads and CLI messages.
func ClassifyError(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrInvalidResource):
		return "invalid_resource"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidVersion):
		return "invalid_version"
	case errors.Is(err, ErrUnsupportedFunction):
		return "unsupported_function"
	case errors.Is(err, ErrIO):
		return "io_error"
	default:
		return "internal"
	}
}
