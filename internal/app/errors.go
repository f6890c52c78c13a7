package app

import (
	"fmt"
	"net/http"
)

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
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// errNotFound is returned for lookups of ideas that do not exist; callers
// never see a zero-valued idea.
func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "no such idea", nil)
}

// errInvalidVote signals a vote value outside {up, down}. No mutation has
// been performed when this is returned.
func errInvalidVote() *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_VOTE", "vote must be up or down", nil)
}

func errValidation(fieldErrors []string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "invalid input", fieldErrors)
}
