package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/threewaymatch/backend/model"
)

// ErrorKind classifies an extraction failure for the retry policy and
// for the failure payload handed back to callers.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindInternal   ErrorKind = "internal"
)

// TransientError wraps a network/timeout/rate-limit class failure from
// one of the extraction services. Transient failures are retried.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// ValidationError means extraction produced output that does not
// conform to the document schema. Retrying would not change the
// outcome, so it is surfaced immediately.
type ValidationError struct {
	Detail string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction validation failed: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("extraction validation failed: %s", e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Classify maps an extraction error to its kind.
func Classify(err error) ErrorKind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var te *TransientError
	if errors.As(err, &te) {
		return KindTransient
	}
	return KindInternal
}

// RoleFailure is one document role's terminal extraction failure.
type RoleFailure struct {
	Role model.Role
	Kind ErrorKind
	Err  error
}

// WorkflowError aggregates every role that failed in a run. All
// failures are reported together, not just the first.
type WorkflowError struct {
	Failures []RoleFailure
}

func (e *WorkflowError) Error() string {
	return "extraction failed for " + e.Detail()
}

// Detail renders the failure list for the structured error payload,
// naming each failed role and its error kind.
func (e *WorkflowError) Detail() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s: %v)", f.Role, f.Kind, f.Err))
	}
	return strings.Join(parts, "; ")
}

// FailedRoles lists the roles that failed, in reconciliation order.
func (e *WorkflowError) FailedRoles() []model.Role {
	roles := make([]model.Role, 0, len(e.Failures))
	for _, f := range e.Failures {
		roles = append(roles, f.Role)
	}
	return roles
}
