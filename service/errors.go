package service

import (
	"errors"
	"fmt"
)

// Code identifies a withdrawal failure class. Codes are part of the API
// contract with the game client and must stay stable.
type Code string

const (
	CodeInvalidInput                 Code = "InvalidInput"
	CodeBelowMinimum                 Code = "BelowMinimum"
	CodeSystemNotConfigured          Code = "SystemNotConfigured"
	CodeUserNotFound                 Code = "UserNotFound"
	CodeInsufficientBalance          Code = "InsufficientBalance"
	CodeWithdrawalAlreadyPending     Code = "WithdrawalAlreadyPending"
	CodeLedgerWriteFailed            Code = "LedgerWriteFailed"
	CodeInvalidSigningMaterial       Code = "InvalidSigningMaterial"
	CodeTokenAccountResolutionFailed Code = "TokenAccountResolutionFailed"
	CodeTransferFailed               Code = "TransferFailed"
	CodeReversalFailed               Code = "ReversalFailed"
)

// Error is a coded withdrawal error. Detail is safe to show the caller.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a coded error.
func E(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap attaches a code and caller-safe detail to an underlying error.
func Wrap(code Code, detail string, err error) *Error {
	return &Error{Code: code, Detail: detail, Err: err}
}

// CodeOf extracts the code from err, or fallback when err carries none.
func CodeOf(err error, fallback Code) Code {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return fallback
}

// DetailOf extracts the caller-safe detail from err, or its plain message.
func DetailOf(err error) string {
	var we *Error
	if errors.As(err, &we) {
		return we.Detail
	}
	return err.Error()
}
