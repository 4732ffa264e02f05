package report

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a report error so callers can pattern-match the
// recovery policy instead of string-matching messages.
type ErrorKind int

const (
	// KindConfig marks a missing or invalid configuration value. Fatal at
	// connector construction, never retried.
	KindConfig ErrorKind = iota
	// KindAuth marks a rejected credential or a failed auth handshake.
	KindAuth
	// KindTransient marks a connection-level failure that survived the
	// bounded retry at the fetch layer.
	KindTransient
	// KindMalformed marks a JSON/XML decode failure or a record missing a
	// required field.
	KindMalformed
	// KindPartialLookup marks a failed per-item detail fetch during
	// enrichment. The only kind tolerated rather than escalated.
	KindPartialLookup
)

// String returns a short tag for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "network"
	case KindMalformed:
		return "malformed"
	case KindPartialLookup:
		return "lookup"
	}
	return "unknown"
}

// Error is the typed, user-facing error a connector surfaces to the
// orchestrator. It names the offending config section and, where known,
// a remedy hint.
type Error struct {
	Kind    ErrorKind
	Section string
	Message string
	Hint    string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Section != "" {
		msg = fmt.Sprintf("[%s] %s", e.Section, msg)
	}
	if e.Hint != "" {
		msg = msg + " (" + e.Hint + ")"
	}
	return msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so callers can test against a
// sentinel like &Error{Kind: KindAuth}.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// ConfigError reports a configuration problem in the given section.
func ConfigError(section, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Section: section, Message: fmt.Sprintf(format, args...)}
}

// AuthError reports a rejected credential or failed handshake.
func AuthError(section, message, hint string, cause error) *Error {
	return &Error{Kind: KindAuth, Section: section, Message: message, Hint: hint, Err: cause}
}

// TransientError reports a connection failure that exhausted its retries.
func TransientError(message string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: cause}
}

// MalformedError reports an undecodable response or a record that failed
// required-field matching.
func MalformedError(format string, args ...any) *Error {
	return &Error{Kind: KindMalformed, Message: fmt.Sprintf(format, args...)}
}

// LookupError reports a failed secondary detail fetch for one candidate.
func LookupError(message string, cause error) *Error {
	return &Error{Kind: KindPartialLookup, Message: message, Err: cause}
}

// InSection stamps the section name onto a typed error bubbling out of a
// shared layer that does not know which connector it serves. Other errors
// are wrapped as-is.
func InSection(err error, section string) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		if re.Section == "" {
			re.Section = section
		}
		return err
	}
	return fmt.Errorf("[%s] %w", section, err)
}

// KindOf returns the kind of a typed report error, or false when the error
// carries no kind.
func KindOf(err error) (ErrorKind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}
