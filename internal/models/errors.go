package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure. Every failed job carries a
// stable kind plus a human-readable message so callers can decide
// whether to retry, surface the failure, or demand manual intervention.
type ErrorKind string

const (
	// ErrorKindNetworkTransient covers connection resets, timeouts and
	// 5xx responses. The only kind the queue retries automatically.
	ErrorKindNetworkTransient ErrorKind = "network_transient"

	// ErrorKindNetworkFatal covers network failures that will not
	// resolve on their own (unroutable host, TLS failure).
	ErrorKindNetworkFatal ErrorKind = "network_fatal"

	// ErrorKindAuthFailed indicates rejected credentials.
	ErrorKindAuthFailed ErrorKind = "auth_failed"

	// ErrorKindNotFound indicates a remote path missing on read.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindInsufficientSpace indicates the local disk or the remote
	// server reported not enough free space.
	ErrorKindInsufficientSpace ErrorKind = "insufficient_space"

	// ErrorKindIntegrityMismatch indicates a checksum or size check
	// failed after a transfer.
	ErrorKindIntegrityMismatch ErrorKind = "integrity_mismatch"

	// ErrorKindEncoderUnavailable indicates no usable encoder was found
	// for the configured codec family.
	ErrorKindEncoderUnavailable ErrorKind = "encoder_unavailable"

	// ErrorKindEncoderFailed indicates the transcoder process exited
	// with an error or produced output in the wrong codec.
	ErrorKindEncoderFailed ErrorKind = "encoder_failed"

	// ErrorKindOutputLargerThanInput indicates the encoded file is at
	// least as large as the original and the block flag is set.
	ErrorKindOutputLargerThanInput ErrorKind = "output_larger_than_input"

	// ErrorKindBackupFailed indicates the remote rename to the .bak
	// name failed before any destructive step was taken.
	ErrorKindBackupFailed ErrorKind = "backup_failed"

	// ErrorKindRollbackFailed indicates the remote is in an
	// inconsistent state: the .bak file exists but could not be renamed
	// back. Requires manual intervention; the pipeline will not touch
	// those files again.
	ErrorKindRollbackFailed ErrorKind = "rollback_failed"

	// ErrorKindInvalidConfig indicates the operation could not start
	// because required configuration is missing or out of range.
	ErrorKindInvalidConfig ErrorKind = "invalid_config"

	// ErrorKindProtocolCapabilityMissing indicates the selected
	// transfer method cannot perform the operation, e.g. upload to a
	// read-only WebDAV server.
	ErrorKindProtocolCapabilityMissing ErrorKind = "protocol_capability_missing"

	// ErrorKindUserRejected indicates the user rejected a job waiting
	// in awaiting_approval.
	ErrorKindUserRejected ErrorKind = "user_rejected"
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	return string(k)
}

// Transient reports whether failures of this kind should be retried
// automatically with backoff.
func (k ErrorKind) Transient() bool {
	return k == ErrorKindNetworkTransient
}

// Critical reports whether failures of this kind leave shared state
// inconsistent and require manual intervention.
func (k ErrorKind) Critical() bool {
	return k == ErrorKindRollbackFailed
}

// PipelineError is a classified error carried through the pipeline.
// It wraps the underlying cause so errors.Is/As keep working.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewPipelineError creates a PipelineError with a formatted message
// and no underlying cause.
func NewPipelineError(kind ErrorKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapPipelineError classifies an underlying error. A nil err returns
// nil so call sites can wrap unconditionally.
func WrapPipelineError(kind ErrorKind, err error, format string, args ...any) *PipelineError {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err or any error it wraps.
// Returns the empty kind for unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsTransient reports whether err is classified as automatically
// retryable.
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// TransitionError reports an attempted job status change that the
// pipeline state machine does not allow.
type TransitionError struct {
	From JobStatus
	To   JobStatus
}

// Error implements the error interface.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid job transition: %s -> %s", e.From, e.To)
}

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrRemotePathRequired indicates a required remote path field is empty.
	ErrRemotePathRequired = errors.New("remote_path is required")

	// ErrJobNotFound indicates a job lookup by id or remote path found nothing.
	ErrJobNotFound = errors.New("job not found")

	// ErrPresetNotFound indicates a preset lookup by name found nothing.
	ErrPresetNotFound = errors.New("preset not found")

	// ErrInvalidPresetName indicates a preset name containing characters
	// outside letters, digits, hyphen and underscore.
	ErrInvalidPresetName = errors.New("preset name may only contain letters, digits, hyphen and underscore")

	// ErrFolderPathRequired indicates a required folder path field is empty.
	ErrFolderPathRequired = errors.New("folder path is required")
)
