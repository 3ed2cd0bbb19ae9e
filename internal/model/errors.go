package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateEntry    = errors.New("duplicate ledger entry")
	ErrCanceled          = errors.New("job canceled")
	ErrUnknownJobType    = errors.New("unknown job type")

	// ErrClaimLost means the job was reaped and claimed again; the earlier
	// worker must stop. It matches ErrInvalidTransition.
	ErrClaimLost = fmt.Errorf("job claimed by another worker: %w", ErrInvalidTransition)
)

// ValidationError carries per-field validation failures.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for f, tag := range e.Fields {
		parts = append(parts, f+"="+tag)
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, ", "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientBalanceError is returned at admission when the owner cannot
// afford the operation.
type InsufficientBalanceError struct {
	Required int64 `json:"required"`
	Current  int64 `json:"current"`
	Shortage int64 `json:"shortage"`
}

func NewInsufficientBalanceError(required, current int64) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		Required: required,
		Current:  current,
		Shortage: required - current,
	}
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient points: need %d, have %d (short by %d)", e.Required, e.Current, e.Shortage)
}

// TransientError marks an upstream failure worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Reference points at something that still uses an artifact.
type Reference struct {
	ArtifactID string       `json:"artifact_id,omitempty"`
	Kind       ArtifactKind `json:"kind"`
	SubjectID  string       `json:"subject_id"`
	Language   string       `json:"language"`
	Version    int          `json:"version,omitempty"`
	Reason     string       `json:"reason"`
}

// ReferenceConflictError blocks a destructive delete.
type ReferenceConflictError struct {
	References []Reference
}

func (e *ReferenceConflictError) Error() string {
	return fmt.Sprintf("artifact is referenced by %d other scope(s)", len(e.References))
}

// ClassifyError maps a handler error to the kind stored on the failed job.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return ErrorKindValidation
	case IsTransient(err):
		return ErrorKindTransient
	default:
		return ErrorKindHandler
	}
}
