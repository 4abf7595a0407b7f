package apperrors

import "errors"

// Code represents an error category independent of the transport layer.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeValidation   Code = "validation_failed"
	CodeLedger       Code = "ledger_failed"
	CodePersistence  Code = "persistence_failed"
	CodeRender       Code = "render_failed"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal_error"
)

// Error wraps a pipeline or infrastructure failure with a stable code and,
// when known, the pipeline step that produced it.
type Error struct {
	Code    Code
	Message string
	Step    string
	Err     error
	// Details carries operator-facing context such as an orphaned ledger id.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so callers can write errors.Is(err, apperrors.NotFound("")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithStep returns a copy of e tagged with the given step.
func (e *Error) WithStep(step string) *Error {
	cp := *e
	cp.Step = step
	return &cp
}

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New creates a new error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new error wrapping err. If err already carries a code the
// original code and step are preserved.
func Wrap(err error, code Code, msg string) *Error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Step: existing.Step, Err: err, Details: existing.Details}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// NotFound, Validation, Ledger, Persistence and Render build the taxonomy
// used by the issuance and revocation pipelines.
func NotFound(msg string) *Error { return New(CodeNotFound, msg) }

func Validation(msg string) *Error { return New(CodeValidation, msg) }

func Ledger(err error, msg string) *Error { return &Error{Code: CodeLedger, Message: msg, Err: err} }

func Persistence(err error, msg string) *Error {
	return &Error{Code: CodePersistence, Message: msg, Err: err}
}

func Render(err error, msg string) *Error { return &Error{Code: CodeRender, Message: msg, Err: err} }

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StepOf returns the pipeline step carried by err, if any.
func StepOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}
