// Package apperr defines the error kinds surfaced by connectors and the
// transfer coordinator.
package apperr

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindSessionRequest Kind = "session_request"
	KindDataFetch      Kind = "data_fetch"
	KindValidation     Kind = "validation"
	KindWidget         Kind = "widget"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrSessionRequest = &Error{Kind: KindSessionRequest}
	ErrDataFetch      = &Error{Kind: KindDataFetch}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrWidget         = &Error{Kind: KindWidget}
)

// CredentialsMissing is shown whenever a credential-gated operation runs unconfigured.
const CredentialsMissing = "Mesh credentials are not configured. Please set the required environment variables."

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	if msg == "" {
		return string(e.Kind) + " error"
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Kind == other.Kind
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Configuration(message string) *Error {
	return newError(KindConfiguration, message, nil)
}

func SessionRequest(message string, cause error) *Error {
	return newError(KindSessionRequest, message, cause)
}

func DataFetch(message string, cause error) *Error {
	return newError(KindDataFetch, message, cause)
}

func Validation(message string) *Error {
	return newError(KindValidation, message, nil)
}

func Widget(message string) *Error {
	return newError(KindWidget, message, nil)
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message converts any error into the text shown to the user, falling back
// when the error carries nothing printable.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}
