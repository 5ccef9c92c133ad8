package app

import (
	"fmt"
	"net/http"
)

// DomainError carries the HTTP status and stable error code a service call
// failed with. Details is rendered as-is in the error body.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func badRequest(code, message string) *DomainError {
	return domainError(http.StatusBadRequest, code, message, nil)
}

func unavailable(code, what string) *DomainError {
	return domainError(http.StatusServiceUnavailable, code, what+" is not configured", nil)
}
