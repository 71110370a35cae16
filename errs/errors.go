package errs

import (
	"errors"
	"fmt"
)

// Base error kinds. Every domain error wraps exactly one of these so callers
// can classify with errors.Is without knowing the specific failure.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrBadRequest       = errors.New("bad request")
	ErrConflict         = errors.New("conflict")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrInternal         = errors.New("internal error")
)

// Named domain failures.
var (
	ErrAlreadyMember       = fmt.Errorf("%w: user is already a member", ErrConflict)
	ErrNotAMember          = fmt.Errorf("%w: user is not a member", ErrBadRequest)
	ErrCannotRemoveCreator = fmt.Errorf("%w: cannot remove the creator", ErrBadRequest)
	ErrCannotDemoteCreator = fmt.Errorf("%w: cannot demote the creator", ErrBadRequest)
	ErrBlocked             = fmt.Errorf("%w: sender is blocked by the recipient", ErrForbidden)
	ErrInvalidDestination  = fmt.Errorf("%w: message must have exactly one destination", ErrBadRequest)
)

func NotFound(resource, field, value string) error {
	return fmt.Errorf("%w: %s with %s %q", ErrNotFound, resource, field, value)
}

func Forbidden(msg string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, msg)
}

func BadRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, msg)
}

func Duplicate(resource, field, value string) error {
	return fmt.Errorf("%w: %s with %s %q already exists", ErrConflict, resource, field, value)
}
