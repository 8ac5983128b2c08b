// Package errors provides the error kinds shared by the ingest pipeline.
//
// Every typed error unwraps to a sentinel when it carries no underlying cause,
// so callers can test the kind with errors.Is without naming the concrete type.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrDecode indicates input that is not valid UTF-8 text
	ErrDecode = errors.New("decode error")
	// ErrParse indicates a record that does not match the annotation grammar
	ErrParse = errors.New("parse error")
	// ErrOffsetRange indicates a mention outside the stripped source text
	ErrOffsetRange = errors.New("offset out of range")
	// ErrUnsupported indicates an unsupported operation or format
	ErrUnsupported = errors.New("unsupported")
	// ErrCorrupt indicates stored content that no longer matches its digest
	ErrCorrupt = errors.New("corrupt content")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "document", "annotation file", "snapshot")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// DecodeError reports input bytes that are not valid UTF-8.
type DecodeError struct {
	Path   string // File path, if applicable
	Offset int    // Byte offset of the first invalid sequence
}

func (e *DecodeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: invalid UTF-8 at byte %d", e.Path, e.Offset)
	}
	return fmt.Sprintf("invalid UTF-8 at byte %d", e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

// ParseError represents a record that could not be parsed. The parser
// recovers from these by skipping the offending block.
type ParseError struct {
	Format  string // Format being parsed (e.g., "APF", "config")
	Path    string // File path, if applicable
	Block   string // Block being parsed (e.g., "event DOC1-EV3")
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	where := e.Format
	if e.Path != "" {
		where = fmt.Sprintf("%s at %s", e.Format, e.Path)
	}
	if e.Block != "" {
		return fmt.Sprintf("failed to parse %s (%s): %s", where, e.Block, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", where, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrParse
}

// OffsetRangeError reports a mention whose offsets fall outside the stripped
// text of its document. It indicates an offset-space mismatch between the
// source and the annotation file and must abort that document.
type OffsetRangeError struct {
	DocumentID string
	EventType  string
	MentionID  string
	Start      int
	End        int // inclusive, as in the annotation file
	TextLength int
}

func (e *OffsetRangeError) Error() string {
	return fmt.Sprintf("document %s: mention %s (%s) offsets [%d,%d] outside text of length %d",
		e.DocumentID, e.MentionID, e.EventType, e.Start, e.End, e.TextLength)
}

func (e *OffsetRangeError) Unwrap() error {
	return ErrOffsetRange
}

// UnsupportedError represents an unsupported feature or format
type UnsupportedError struct {
	Feature string // Feature or format that is unsupported
	Reason  string // Why it's not supported
	Err     error  // Underlying error, if any
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupported
}

// CorruptError reports stored content whose digest does not match the
// digest recorded for it
type CorruptError struct {
	Resource string // Type of resource (e.g., "snapshot")
	ID       string // Identifier of the resource
	Want     string // Recorded digest
	Got      string // Digest of the content read
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s %s is corrupt: recorded %s, read %s", e.Resource, e.ID, e.Want, e.Got)
}

func (e *CorruptError) Unwrap() error {
	return ErrCorrupt
}

// Helper functions for creating common errors

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewParse creates a ParseError
func NewParse(format, block, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Block:   block,
		Message: message,
	}
}

// NewUnsupported creates an UnsupportedError
func NewUnsupported(feature, reason string) *UnsupportedError {
	return &UnsupportedError{
		Feature: feature,
		Reason:  reason,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Join wraps errors.Join for convenience
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
