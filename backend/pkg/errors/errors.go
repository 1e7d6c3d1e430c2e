package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeModel represents upstream language-model errors
	ErrorTypeModel ErrorType = "model"
	// ErrorTypeExtraction represents malformed extraction output
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeAuth represents authentication errors
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeValidation represents invalid client input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Model Errors

// ErrModelNoResponse is returned when the model returns no choices
var ErrModelNoResponse = NewBaseError(ErrorTypeModel, "no response from language model", nil)

// ErrModelStreamFailed is returned when a streaming completion fails
type ErrModelStreamFailed struct {
	*BaseError
	Model      string
	Strategy   string
	TokensSent int
}

func NewModelStreamFailed(model, strategy string, tokensSent int, err error) *ErrModelStreamFailed {
	return &ErrModelStreamFailed{
		BaseError:  NewBaseError(ErrorTypeModel, fmt.Sprintf("%s completion stream failed", strategy), err),
		Model:      model,
		Strategy:   strategy,
		TokensSent: tokensSent,
	}
}

// ErrModelRequestFailed is returned when a non-streaming completion fails
type ErrModelRequestFailed struct {
	*BaseError
	Model string
}

func NewModelRequestFailed(model string, err error) *ErrModelRequestFailed {
	return &ErrModelRequestFailed{
		BaseError: NewBaseError(ErrorTypeModel, "completion request failed", err),
		Model:     model,
	}
}

// Extraction Errors

// ErrExtractionMalformed is returned when the extraction output cannot be decoded
type ErrExtractionMalformed struct {
	*BaseError
	Raw string
}

func NewExtractionMalformed(raw string, err error) *ErrExtractionMalformed {
	return &ErrExtractionMalformed{
		BaseError: NewBaseError(ErrorTypeExtraction, "extraction output is not valid JSON", err),
		Raw:       raw,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Operation string
}

func NewGraphQueryFailed(operation string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("query failed: %s", operation), err),
		Operation: operation,
	}
}

// ErrGraphTxFailed is returned when a write transaction is rolled back
type ErrGraphTxFailed struct {
	*BaseError
	Stage string
}

func NewGraphTxFailed(stage string, err error) *ErrGraphTxFailed {
	return &ErrGraphTxFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("transaction failed at %s", stage), err),
		Stage:     stage,
	}
}

// ErrNotFound is returned when a thread, node or session does not exist
type ErrNotFound struct {
	*BaseError
	Kind string
	ID   string
}

func NewNotFound(kind, id string) *ErrNotFound {
	return &ErrNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("%s not found: %s", kind, id), nil),
		Kind:      kind,
		ID:        id,
	}
}

// Auth Errors

// ErrAuthRequired is returned when a request carries no bearer token
var ErrAuthRequired = NewBaseError(ErrorTypeAuth, "authentication required", nil)

// ErrAuthInvalidToken is returned when a bearer token fails validation
type ErrAuthInvalidToken struct {
	*BaseError
}

func NewAuthInvalidToken(err error) *ErrAuthInvalidToken {
	return &ErrAuthInvalidToken{
		BaseError: NewBaseError(ErrorTypeAuth, "invalid token", err),
	}
}

// Validation Errors

// ErrValidation is returned when a request is malformed
type ErrValidation struct {
	*BaseError
	Field string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("%s: %s", field, reason), nil),
		Field:     field,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// typed is implemented by BaseError and every type that embeds it
type typed interface {
	errorType() ErrorType
}

func (e *BaseError) errorType() ErrorType { return e.Type }

// TypeOf returns the category of the first BaseError in err's chain
func TypeOf(err error) (ErrorType, bool) {
	for err != nil {
		if t, ok := err.(typed); ok {
			return t.errorType(), true
		}
		err = stderrors.Unwrap(err)
	}
	return "", false
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// IsNotFound reports whether err is an ErrNotFound
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return stderrors.As(err, &nf)
}

// HTTPStatus maps an error to the status code the API answers with
func HTTPStatus(err error) int {
	if IsNotFound(err) {
		return http.StatusNotFound
	}
	t, ok := TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeModel:
		return http.StatusBadGateway
	case ErrorTypeContext:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
