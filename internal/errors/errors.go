package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess  Code = 0
	CodeInternal Code = 1
	CodeUsage    Code = 2

	// Configuration and environment.
	CodeConfig        Code = 10
	CodeChainMismatch Code = 11
	CodeNotDeployed   Code = 12
	CodeSigner        Code = 13

	// Token resolution.
	CodeTokenNotFound  Code = 20
	CodeProtectedToken Code = 21

	// Quote acquisition and validation.
	CodeQuoteUnavailable Code = 30
	CodeMalformedQuote   Code = 31
	CodeUnsafeQuote      Code = 32
	CodeInvalidSlippage  Code = 33

	// Execution.
	CodeInsufficientBalance Code = 40
	CodeApproval            Code = 41
	CodeExecutionReverted   Code = 42
	CodeOrderIntegrity      Code = 43

	// Transport.
	CodeAuth        Code = 50
	CodeRateLimited Code = 51
	CodeUnavailable Code = 52
)

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if typed, ok := As(err); ok {
		return int(typed.Code)
	}
	return int(CodeInternal)
}
