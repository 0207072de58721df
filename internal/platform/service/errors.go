package service

import (
	"errors"
	"fmt"
)

// ErrorCode classifies orchestration failures for the API layer.
type ErrorCode string

const (
	CodeValidation           ErrorCode = "ValidationError"
	CodeServerNotInstalled   ErrorCode = "ServerNotInstalled"
	CodeInstallationNotFound ErrorCode = "InstallationNotFound"
	CodeBuildInsert          ErrorCode = "BuildInsertError"
	CodeDeployInsert         ErrorCode = "DeployInsertError"
	CodeRevisionInsert       ErrorCode = "RevisionInsertError"
	CodeJobSubmission        ErrorCode = "JobSubmissionError"
	CodeRateLimited          ErrorCode = "RateLimited"
)

// Error is a typed orchestration failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func newError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Sentinels for errors.Is checks.
var (
	ErrValidation           = &Error{Code: CodeValidation}
	ErrServerNotInstalled   = &Error{Code: CodeServerNotInstalled}
	ErrInstallationNotFound = &Error{Code: CodeInstallationNotFound}
	ErrBuildInsert          = &Error{Code: CodeBuildInsert}
	ErrDeployInsert         = &Error{Code: CodeDeployInsert}
	ErrRevisionInsert       = &Error{Code: CodeRevisionInsert}
	ErrJobSubmission        = &Error{Code: CodeJobSubmission}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
)
