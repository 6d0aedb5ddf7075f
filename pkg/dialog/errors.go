package dialog

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind классифицирует причину неудачи звонка
type Kind string

const (
	// TCP connect failure, write failure or connection lost while negotiating
	KindConnect Kind = "connect"
	// Challenge without usable credentials, realm or nonce, or credentials rejected
	KindAuth Kind = "auth"
	// Malformed message or unusable SDP answer
	KindProtocol Kind = "protocol"
	// Final response >= 300 other than 401/407
	KindCarrierRejected Kind = "carrier_rejected"
	// No final response within the per-message window
	KindTimeout Kind = "timeout"
	// Bad configuration detected before dialing
	KindConfig Kind = "config"
	// Hang-up requested while negotiating
	KindCancelled Kind = "cancelled"
	// Operation not allowed in the current state
	KindState Kind = "state"
)

// String возвращает строковое представление категории ошибки
func (k Kind) String() string {
	return string(k)
}

// Error структурированная ошибка диалога
type Error struct {
	Kind   Kind
	CallID string

	// StatusCode and Reason are set for KindCarrierRejected
	StatusCode int
	Reason     string

	Message string
	Cause   error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("[%s] %d %s", e.Kind, e.StatusCode, e.Reason)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.CallID != "" {
		msg += fmt.Sprintf(" (Call-ID: %s)", e.CallID)
	}
	return msg
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a fresh attempt may succeed. The dialog itself
// never retries.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnect || e.Kind == KindTimeout
}

func newError(kind Kind, callID string, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		CallID:  callID,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// KindOf returns the Kind of a dialog error anywhere in the chain, or ""
func KindOf(err error) Kind {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Kind
	}
	return ""
}
