// Package errors provides structured error handling for winmsa.
// It implements errors with codes, context, and stack traces.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Input format errors (1xx), always fatal to the run
	CodeFileNotFound        Code = "E101"
	CodeInvalidFormat       Code = "E102"
	CodeNotQuerySorted      Code = "E103"
	CodeUnknownReference    Code = "E104"
	CodeUnsupportedCigarOp  Code = "E105"
	CodeInconsistentPairing Code = "E106"

	// Extraction errors (2xx)
	CodeInvalidRange    Code = "E201"
	CodeIncompleteRange Code = "E202"
	CodeExtractFailed   Code = "E203"
	CodeWindowFailed    Code = "E204"

	// Output errors (3xx)
	CodeWriteFailed      Code = "E301"
	CodeCheckpointFailed Code = "E302"

	// Coordination errors (4xx), fatal to the whole run
	CodeContextCanceled Code = "E401"
	CodeTransportFailed Code = "E402"
	CodeMessageTooLarge Code = "E403"
	CodeDecodeFailed    Code = "E404"
	CodePanic           Code = "E405"

	// Ledger errors (5xx)
	CodeLedgerInit  Code = "E501"
	CodeLedgerQuery Code = "E502"
	CodeLedgerWrite Code = "E503"

	// Unknown
	CodeUnknown Code = "E999"
)

// WinMSAError is the base error type for all winmsa errors.
type WinMSAError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *WinMSAError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *WinMSAError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *WinMSAError) Is(target error) bool {
	if t, ok := target.(*WinMSAError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *WinMSAError) WithContext(key string, value interface{}) *WinMSAError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new WinMSAError.
func New(code Code, message string) *WinMSAError {
	return &WinMSAError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *WinMSAError {
	if err == nil {
		return nil
	}

	return &WinMSAError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *WinMSAError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *WinMSAError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *WinMSAError {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// UnsupportedCigarOp reports a CIGAR operation the decoder cannot handle.
func UnsupportedCigarOp(op byte, qname string) *WinMSAError {
	return New(CodeUnsupportedCigarOp, "unsupported cigar operation").
		WithContext("op", string(op)).
		WithContext("read", qname)
}

// NotQuerySorted reports SAM input that is not queryname-sorted.
func NotQuerySorted(path, sortOrder string) *WinMSAError {
	return New(CodeNotQuerySorted, "sam input must be queryname-sorted").
		WithContext("path", path).
		WithContext("sort_order", sortOrder)
}

// UnknownReference reports a reference name absent from the SAM header.
func UnknownReference(name string) *WinMSAError {
	return New(CodeUnknownReference, "reference not declared in header").
		WithContext("reference", name)
}

// InconsistentPairing reports mate records that contradict each other.
func InconsistentPairing(qname, detail string) *WinMSAError {
	return New(CodeInconsistentPairing, "inconsistent mate pairing").
		WithContext("read", qname).
		WithContext("detail", detail)
}

// ParseError creates a parsing error with location.
func ParseError(path string, line int, err error) *WinMSAError {
	return Wrap(err, CodeInvalidFormat, "parse error").
		WithContext("path", path).
		WithContext("line", line)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *WinMSAError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// MessageTooLarge reports a pool payload above the transport ceiling.
func MessageTooLarge(size, limit int) *WinMSAError {
	return New(CodeMessageTooLarge, "encoded message exceeds transport limit").
		WithContext("size", size).
		WithContext("limit", limit)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var wErr *WinMSAError
	if errors.As(err, &wErr) {
		return wErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var wErr *WinMSAError
	if errors.As(err, &wErr) {
		return wErr.Code
	}
	return CodeUnknown
}

// IsFormat returns true for input format errors, which abort the run.
func IsFormat(err error) bool {
	switch GetCode(err) {
	case CodeFileNotFound, CodeInvalidFormat, CodeNotQuerySorted,
		CodeUnknownReference, CodeUnsupportedCigarOp, CodeInconsistentPairing:
		return true
	default:
		return false
	}
}

// IsCoordination returns true for pool coordination errors, which abort the run.
func IsCoordination(err error) bool {
	switch GetCode(err) {
	case CodeContextCanceled, CodeTransportFailed, CodeMessageTooLarge,
		CodeDecodeFailed, CodePanic:
		return true
	default:
		return false
	}
}

// IsJobError returns true for per-window errors, which are reported and
// recovered without stopping the run.
func IsJobError(err error) bool {
	return IsCode(err, CodeWindowFailed) || IsCode(err, CodeExtractFailed)
}

// IsFatal returns true if the error is unrecoverable for the whole run.
func IsFatal(err error) bool {
	return IsFormat(err) || IsCoordination(err)
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
