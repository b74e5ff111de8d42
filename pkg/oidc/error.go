package oidc

import (
	"errors"
	"fmt"
)

type errorType string

const (
	InvalidRequest     errorType = "invalid_request"
	InvalidClient      errorType = "invalid_client"
	InvalidGrant       errorType = "invalid_grant"
	UnauthorizedClient errorType = "unauthorized_client"
	ServerError        errorType = "server_error"
)

// Error is the RFC 6749 error document returned by provider endpoints.
type Error struct {
	Parent      error     `json:"-" schema:"-"`
	ErrorType   errorType `json:"error" schema:"error"`
	Description string    `json:"error_description,omitempty" schema:"error_description,omitempty"`
}

func (e *Error) Error() string {
	message := "ErrorType=" + string(e.ErrorType)
	if e.Description != "" {
		message += " Description=" + e.Description
	}
	if e.Parent != nil {
		message += " Parent=" + e.Parent.Error()
	}
	return message
}

func (e *Error) Unwrap() error {
	return e.Parent
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.ErrorType == t.ErrorType &&
		(e.Description == t.Description || t.Description == "")
}

func (e *Error) WithParent(err error) *Error {
	e.Parent = err
	return e
}

func (e *Error) WithDescription(desc string, args ...any) *Error {
	e.Description = fmt.Sprintf(desc, args...)
	return e
}

func ErrInvalidRequest() *Error {
	return &Error{ErrorType: InvalidRequest}
}

func ErrServerError() *Error {
	return &Error{ErrorType: ServerError}
}

// DefaultToServerError wraps non OIDC errors into a server_error,
// so callers always get the wire error shape.
func DefaultToServerError(err error, description string) *Error {
	oidcErr := new(Error)
	if ok := errors.As(err, &oidcErr); !ok {
		oidcErr.ErrorType = ServerError
		oidcErr.Description = description
		oidcErr.Parent = err
	}
	return oidcErr
}
