package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrInvalidInput
	ErrMetadataFetchFailed
	ErrVideoDownloadFailed
	ErrSubtitleFailed
	ErrThumbnailFailed
	ErrSidecarWriteFailed
	ErrChannelNotInstalled
	ErrMalformedRelease
	ErrRateLimited
	ErrFetchFailed
)

func (t ErrorType) String() string {
	switch t {
	case ErrInvalidInput:
		return "InvalidInput"
	case ErrMetadataFetchFailed:
		return "MetadataFetchFailed"
	case ErrVideoDownloadFailed:
		return "VideoDownloadFailed"
	case ErrSubtitleFailed:
		return "SubtitleFailed"
	case ErrThumbnailFailed:
		return "ThumbnailFailed"
	case ErrSidecarWriteFailed:
		return "SidecarWriteFailed"
	case ErrChannelNotInstalled:
		return "ChannelNotInstalled"
	case ErrMalformedRelease:
		return "MalformedRelease"
	case ErrRateLimited:
		return "RateLimited"
	case ErrFetchFailed:
		return "FetchFailed"
	default:
		return "Unknown"
	}
}

// Error carries a taxonomy type plus optional context and cause.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	e := New(errorType, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	parts := []string{e.Message}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "("+strings.Join(ctxParts, ", ")+")")
	}

	if e.Cause != nil {
		parts[len(parts)-1] += ":"
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Is lets errors.Is match on the taxonomy type alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// Kind returns a sentinel usable with errors.Is, e.g. errors.Is(err, apperr.Kind(apperr.ErrRateLimited)).
func Kind(t ErrorType) error {
	return &Error{Type: t}
}

func IsType(err error, errorType ErrorType) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errorType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the outermost taxonomy type found in err's chain.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrUnknown
}

// SafeExecute runs fn and converts a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Newf(ErrUnknown, "runtime error: %v", r)
		}
	}()

	return fn()
}
