package httperr

import "errors"

type BadRequestError struct {
	msg   string
	field string
}

func (e *BadRequestError) Error() string { return e.msg }

// Field names the offending request field, when known.
func (e *BadRequestError) Field() string { return e.field }

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

func NewBadRequestField(msg string, field string) error {
	return &BadRequestError{msg: msg, field: field}
}

func IsBadRequest(err error) bool {
	ok := errors.As(err, new(*BadRequestError))
	return ok
}

func BadRequestField(err error) string {
	var e *BadRequestError
	if errors.As(err, &e) {
		return e.Field()
	}
	return ""
}

type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

func NewNotFound(msg string) error { return &NotFoundError{msg: msg} }

func IsNotFound(err error) bool {
	ok := errors.As(err, new(*NotFoundError))
	return ok
}

type ForbiddenError struct {
	msg string
}

func (e *ForbiddenError) Error() string { return e.msg }

func NewForbidden(msg string) error { return &ForbiddenError{msg: msg} }

func IsForbidden(err error) bool {
	ok := errors.As(err, new(*ForbiddenError))
	return ok
}

type ConflictError struct {
	msg string
}

func (e *ConflictError) Error() string { return e.msg }

func NewConflict(msg string) error { return &ConflictError{msg: msg} }

func IsConflict(err error) bool {
	ok := errors.As(err, new(*ConflictError))
	return ok
}
