package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies errors surfaced at a flow boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindRemote
	KindConfiguration
	KindStateMismatch
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindConfiguration:
		return "configuration"
	case KindStateMismatch:
		return "state_mismatch"
	default:
		return "unknown"
	}
}

// GenericMessage is shown for errors that carry no user-facing text.
const GenericMessage = "Something went wrong. Please try again."

// Error is a classified error with a message safe to show to the shopper.
type Error struct {
	Kind    Kind
	Message string
	// Status is the upstream HTTP status for remote errors, 0 otherwise.
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return GenericMessage
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Configuration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

func StateMismatch(msg string) *Error {
	return &Error{Kind: KindStateMismatch, Message: msg}
}

// Remote wraps an upstream failure. status is 0 for transport errors and timeouts.
func Remote(msg string, status int, err error) *Error {
	return &Error{Kind: KindRemote, Message: msg, Status: status, Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is of kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

// UserMessage returns the text to render inline for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return GenericMessage
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusUnprocessableEntity
	case KindStateMismatch:
		return http.StatusConflict
	case KindRemote:
		if e.Status >= 400 && e.Status < 500 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
