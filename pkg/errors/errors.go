package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

var (
	// ErrUnknownFieldType means an attribute names a field type missing from the catalog.
	ErrUnknownFieldType = stderrors.New("unknown field type")
	// ErrUnknownOperator means a compound expression uses an unsupported operator.
	ErrUnknownOperator = stderrors.New("invalid operator")
	// ErrInvalidExpectedValue means a compound expects an unsupported output type.
	ErrInvalidExpectedValue = stderrors.New("invalid expected value")
)

// ValidationError aggregates field messages keyed by path, e.g. "fields.title"
// or "data.inputs". Keys keep insertion order.
type ValidationError struct {
	keys     []string
	messages map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{messages: make(map[string][]string)}
}

// NewFieldError is a shortcut for a single-message validation error.
func NewFieldError(path, message string) *ValidationError {
	return NewValidationError().Add(path, message)
}

func (e *ValidationError) Add(path, message string) *ValidationError {
	if _, ok := e.messages[path]; !ok {
		e.keys = append(e.keys, path)
	}
	e.messages[path] = append(e.messages[path], message)
	return e
}

func (e *ValidationError) Addf(path, format string, args ...any) *ValidationError {
	return e.Add(path, fmt.Sprintf(format, args...))
}

// Merge copies every message of other into e. Non-validation errors are ignored.
func (e *ValidationError) Merge(other error) *ValidationError {
	var verr *ValidationError
	if !stderrors.As(other, &verr) || verr == nil {
		return e
	}
	for _, key := range verr.keys {
		for _, msg := range verr.messages[key] {
			e.Add(key, msg)
		}
	}
	return e
}

func (e *ValidationError) HasErrors() bool {
	return len(e.keys) > 0
}

// ErrOrNil returns e when it holds messages.
func (e *ValidationError) ErrOrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Keys() []string {
	return append([]string(nil), e.keys...)
}

func (e *ValidationError) Messages(path string) []string {
	return append([]string(nil), e.messages[path]...)
}

func (e *ValidationError) Has(path, message string) bool {
	for _, msg := range e.messages[path] {
		if msg == message {
			return true
		}
	}
	return false
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.keys))
	for _, key := range e.keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, strings.Join(e.messages[key], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(http.StatusUnprocessableEntity, "validation failed")
	for _, key := range e.keys {
		herr = herr.AddMetaValue(key, strings.Join(e.messages[key], ", "))
	}
	return herr
}

type NotFoundError struct {
	Resource string
	Key      any
}

func NewNotFoundError(resource string, key any) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%v' not found", e.Resource, e.Key)
}

func (e *NotFoundError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusNotFound, e.Error()).AddMetaValue("resource", e.Resource)
}

type BadRequestError struct {
	Message string
	Field   string
}

func NewBadRequestError(field, format string, args ...any) *BadRequestError {
	return &BadRequestError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *BadRequestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *BadRequestError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Message).AddMetaValue("field", e.Field)
}

// StorageError wraps a persistence failure. The surrounding transaction is
// always rolled back when one is returned.
type StorageError struct {
	Op    string
	Cause error
}

func NewStorageError(op string, cause error) *StorageError {
	return &StorageError{Op: op, Cause: cause}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func (e *StorageError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusInternalServerError, "storage error").AddMetaValue("operation", e.Op)
}

// Storage wraps err as a StorageError unless it already carries a domain error.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return NewStorageError(op, err)
}

func IsValidationError(err error) bool {
	var verr *ValidationError
	return stderrors.As(err, &verr)
}

func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return stderrors.As(err, &nf)
}

func IsBadRequestError(err error) bool {
	var br *BadRequestError
	return stderrors.As(err, &br)
}

func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// IsDomainError reports whether err is one of the engine's typed errors.
func IsDomainError(err error) bool {
	return IsValidationError(err) || IsNotFoundError(err) || IsBadRequestError(err) || IsStorageError(err) ||
		stderrors.Is(err, ErrUnknownFieldType) || stderrors.Is(err, ErrUnknownOperator) || stderrors.Is(err, ErrInvalidExpectedValue)
}

type httpMappable interface {
	ToHTTPError() *httperror.HTTPError
}

// ToHTTPError maps any engine error onto an HTTP error for a transport layer.
func ToHTTPError(err error) *httperror.HTTPError {
	if err == nil {
		return nil
	}
	var mappable httpMappable
	if stderrors.As(err, &mappable) {
		return mappable.ToHTTPError()
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
}
