package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass decides how a failure propagates out of a run.
type ErrorClass string

const (
	// ErrorClassTransient covers timeouts, throttling and a locked database.
	// Retrying the run later may succeed.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassCredentials means the secrets are missing or the catalog
	// rejected them.
	ErrorClassCredentials ErrorClass = "credentials"
	// ErrorClassInconsistency means a document written by this run could not
	// be read back.
	ErrorClassInconsistency ErrorClass = "inconsistency"
	// ErrorClassProgrammer marks input the engine never accepts, such as an
	// item of unknown kind.
	ErrorClassProgrammer ErrorClass = "programmer"
	// ErrorClassUnresolved marks a related item found in neither the catalog
	// nor the store. The pair policy decides whether it is fatal.
	ErrorClassUnresolved ErrorClass = "unresolved"
	ErrorClassPermanent  ErrorClass = "permanent"
)

// Error codes carried by EngineError.Code.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeCredentials       = "INVALID_CREDENTIALS"
	ErrCodeRefetch           = "REFETCH_INCONSISTENCY"
	ErrCodeUnsupportedKind   = "UNSUPPORTED_KIND"
	ErrCodeUnresolvedPair    = "UNRESOLVED_PAIR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCatalog           = "CATALOG_ERROR"
)

// Sentinels for errors.Is. Matching compares class and code only.
var (
	ErrCredentials          = &EngineError{Class: ErrorClassCredentials, Code: ErrCodeCredentials}
	ErrRefetchInconsistency = &EngineError{Class: ErrorClassInconsistency, Code: ErrCodeRefetch}
	ErrUnsupportedKind      = &EngineError{Class: ErrorClassProgrammer, Code: ErrCodeUnsupportedKind}
	ErrUnresolvedPair       = &EngineError{Class: ErrorClassUnresolved, Code: ErrCodeUnresolvedPair}
	ErrInvalidTransition    = &EngineError{Class: ErrorClassProgrammer, Code: ErrCodeInvalidTransition}
)

// EngineError is a classified failure. Resource is the external id of the
// item or document involved, when there is one.
//
//nolint:revive // engine.EngineError reads better than engine.Error at call sites
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Err       error                  `json:"-"`
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var ctx []string
	if e.Resource != "" {
		ctx = append(ctx, "resource="+e.Resource)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

func (e *EngineError) WithResource(externalID string) *EngineError {
	e.Resource = externalID
	return e
}

func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func classified(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

func NewTransientError(message string, err error) *EngineError {
	return classified(ErrorClassTransient, message, err)
}

func NewPermanentError(message string, err error) *EngineError {
	return classified(ErrorClassPermanent, message, err)
}

// NewCredentialError reports secrets the catalog does not accept.
func NewCredentialError(message string) *EngineError {
	return classified(ErrorClassCredentials, message, nil).WithCode(ErrCodeCredentials)
}

// NewRefetchInconsistencyError reports a document that could not be read
// back after a write.
func NewRefetchInconsistencyError(externalID string) *EngineError {
	return classified(ErrorClassInconsistency, "could not fetch updated document", nil).
		WithCode(ErrCodeRefetch).
		WithResource(externalID)
}

func NewUnsupportedKindError(kind Kind) *EngineError {
	return classified(ErrorClassProgrammer, fmt.Sprintf("unsupported item kind %q", kind), nil).
		WithCode(ErrCodeUnsupportedKind)
}

// NewUnresolvedPairError reports a related item found on neither side.
func NewUnresolvedPairError(externalID string) *EngineError {
	return classified(ErrorClassUnresolved, "related item could not be resolved", nil).
		WithCode(ErrCodeUnresolvedPair).
		WithResource(externalID)
}

// ClassOf returns the class and code of err. Errors from outside the engine
// are permanent with no code.
func ClassOf(err error) (ErrorClass, string) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, e.Code
	}
	return ErrorClassPermanent, ""
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == class
}

func IsTransient(err error) bool     { return hasClass(err, ErrorClassTransient) }
func IsCredentials(err error) bool   { return hasClass(err, ErrorClassCredentials) }
func IsInconsistency(err error) bool { return hasClass(err, ErrorClassInconsistency) }
func IsPermanent(err error) bool     { return hasClass(err, ErrorClassPermanent) }

// IsFatal reports whether err aborts the enclosing batch. Only unresolved
// pairs are recoverable, and only when the pair policy allows it.
func IsFatal(err error) bool {
	return err != nil && !hasClass(err, ErrorClassUnresolved)
}

func storeError(operation, externalID string, err error) error {
	return NewTransientError("target store request failed", err).
		WithCode(ErrCodeStore).
		WithOperation(operation).
		WithResource(externalID)
}

func catalogError(operation, id string, err error) error {
	return NewTransientError("source catalog request failed", err).
		WithCode(ErrCodeCatalog).
		WithOperation(operation).
		WithResource(id)
}
