package errors

import (
	stdErrors "errors"
	"net/http"
)

// Code is the machine-readable error kind sent to clients.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// fulfilment outcomes
	CodeUnknownPart       Code = "UNKNOWN_PART"
	CodeNoMatchingItem    Code = "NO_MATCHING_ITEM"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeNoBomTemplate     Code = "NO_BOM_TEMPLATE"
	CodeRequestNotOpen    Code = "REQUEST_NOT_OPEN"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
)

// Metadata is how a code is rendered over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var catalog = map[Code]Metadata{
	CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeConflict:      {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
	CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true},
	CodeIdempotency:   {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
	CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded"},
	CodeInternal:      {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
	CodeDependency:    {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},

	CodeUnknownPart:       {HTTPStatus: http.StatusNotFound, PublicMessage: "part not found in inventory", DetailsAllowed: true},
	CodeNoMatchingItem:    {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "part is not needed by this request", DetailsAllowed: true},
	CodeInsufficientStock: {HTTPStatus: http.StatusConflict, PublicMessage: "insufficient stock", DetailsAllowed: true},
	CodeNoBomTemplate:     {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "no bill of materials for product", DetailsAllowed: true},
	CodeRequestNotOpen:    {HTTPStatus: http.StatusConflict, PublicMessage: "request is not open", DetailsAllowed: true},
	CodeStoreUnavailable:  {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "store unavailable", Retryable: true},
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := catalog[code]; ok {
		return meta
	}
	return catalog[CodeInternal]
}

// Error is a coded error with an optional cause and client-facing details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err; a nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether any *Error in err's chain carries code.
func Is(err error, code Code) bool {
	for typed := As(err); typed != nil; typed = As(typed.cause) {
		if typed.code == code {
			return true
		}
	}
	return false
}
