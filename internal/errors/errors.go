// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Sentinel errors for common conditions.
var (
	ErrDuplicateFile   = errors.New("duplicate file at destination")
	ErrUnsupportedType = errors.New("unsupported data type")
	ErrMalformedLine   = errors.New("malformed line")
	ErrMissingHeader   = errors.New("missing header line")
	ErrWriterClosed    = errors.New("partition writer is closed")
	ErrTaskStopped     = errors.New("task is stopped")
	ErrProducerClosed  = errors.New("producer is closed")
	ErrConnectionLost  = errors.New("connection lost")
	ErrUnknownEncoding = errors.New("unknown character encoding")
)

// ConversionError represents a failure turning a file line into a record.
type ConversionError struct {
	Path string
	Line int64
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion error: path=%s line=%d: %v", e.Path, e.Line, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ValidationError represents an invalid schema column or setting.
type ValidationError struct {
	Column string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: column=%s field=%s: %s",
		e.Column, e.Field, e.Reason)
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CommitError represents a failure to finalize a rotation window.
type CommitError struct {
	Partition   record.TopicPartition
	StartOffset int64
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit error: partition=%s start_offset=%d: %v",
		e.Partition, e.StartOffset, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return errors.Is(err, ErrConnectionLost)
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
// A file already at the destination stays there, so a duplicate never is.
func (e *StorageError) IsRetryable() bool {
	if errors.Is(e.Err, ErrDuplicateFile) {
		return false
	}
	switch e.Operation {
	case "write", "upload", "create", "move":
		return true
	}
	return IsRetryable(e.Err)
}

// IsRetryable reports whether the failed commit may succeed on a later attempt.
func (e *CommitError) IsRetryable() bool {
	return IsRetryable(e.Err)
}
