// Package errs defines the error taxonomy shared by the release pipeline.
//
// Job-level errors (MissingCredentialError, SecretProviderError, StageFailure)
// are caught at the job executor boundary and turned into a failed JobResult.
// NoArtifactsError is the only run-fatal error. ReleaseNotesGenerationError is
// never fatal: the assembler falls back to an empty changelog.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable, JSON friendly identifier for an error condition.
type ErrorCode string

const (
	CodeMissingCredential ErrorCode = "MISSING_CREDENTIAL"
	CodeSecretProvider    ErrorCode = "SECRET_PROVIDER_ERROR"
	CodeStageFailed       ErrorCode = "STAGE_FAILED"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeCancelled         ErrorCode = "CANCELLED"
	CodeNotImplemented    ErrorCode = "NOT_IMPLEMENTED"
	CodeNoArtifacts       ErrorCode = "NO_ARTIFACTS"
	CodeReleaseNotes      ErrorCode = "RELEASE_NOTES_FAILED"
	CodeInvalidJob        ErrorCode = "INVALID_JOB"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ErrNotImplemented marks a stage that has no collaborator wired yet
// (for example App Store publishing). It produces the NotImplemented
// terminal status rather than Failed.
var ErrNotImplemented = errors.New("not implemented")

// ErrInvalidJob is returned when a platform job descriptor breaks an invariant.
var ErrInvalidJob = errors.New("invalid platform job")

// ErrInvalidRequest wraps trigger inputs that cannot start a run.
var ErrInvalidRequest = errors.New("invalid run request")

// ErrRunNotFound is returned by run stores for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// ErrRunCancelled is the cancellation cause of a run stopped on request.
var ErrRunCancelled = errors.New("run cancelled")

// ErrRunNotCancellable is returned when cancelling a run this process cannot stop.
var ErrRunNotCancellable = errors.New("run cannot be cancelled")

// coder is implemented by every typed error in this package.
type coder interface {
	Code() ErrorCode
}

// MissingCredentialError reports required secrets that could not be resolved.
type MissingCredentialError struct {
	Platform string
	Keys     []string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("platform %s: missing required secrets: %s", e.Platform, strings.Join(e.Keys, ", "))
}

// Code implements coder.
func (e *MissingCredentialError) Code() ErrorCode { return CodeMissingCredential }

// SecretProviderError wraps a secret backend failure other than "not found".
type SecretProviderError struct {
	Platform string
	Key      string
	Err      error
}

func (e *SecretProviderError) Error() string {
	return fmt.Sprintf("platform %s: secret %s: %v", e.Platform, e.Key, e.Err)
}

func (e *SecretProviderError) Unwrap() error { return e.Err }

// Code implements coder.
func (e *SecretProviderError) Code() ErrorCode { return CodeSecretProvider }

// StageFailure is a build, sign, package or publish step that did not complete.
type StageFailure struct {
	Platform string
	Stage    string
	Err      error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("platform %s: stage %s failed: %v", e.Platform, e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// Code classifies the failure by its cause. A stage timeout and a cancelled
// run are still stage failures for state machine purposes, they only carry a
// more specific code.
func (e *StageFailure) Code() ErrorCode {
	switch {
	case errors.Is(e.Err, ErrNotImplemented):
		return CodeNotImplemented
	case errors.Is(e.Err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(e.Err, context.Canceled):
		return CodeCancelled
	}
	var c coder
	if errors.As(e.Err, &c) {
		return c.Code()
	}
	return CodeStageFailed
}

// PlatformFailure summarises why one platform did not produce artifacts.
type PlatformFailure struct {
	Platform string    `json:"platform"`
	Status   string    `json:"status"`
	Stage    string    `json:"stage,omitempty"`
	Code     ErrorCode `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// NoArtifactsError is returned by the release assembler when no platform
// succeeded. It is the only run-fatal error.
type NoArtifactsError struct {
	Failures []PlatformFailure
}

func (e *NoArtifactsError) Error() string {
	if len(e.Failures) == 0 {
		return "no platform produced release artifacts"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		switch {
		case f.Message != "":
			parts = append(parts, fmt.Sprintf("%s=%s (%s)", f.Platform, f.Status, f.Message))
		default:
			parts = append(parts, fmt.Sprintf("%s=%s", f.Platform, f.Status))
		}
	}
	return "no platform produced release artifacts: " + strings.Join(parts, "; ")
}

// Code implements coder.
func (e *NoArtifactsError) Code() ErrorCode { return CodeNoArtifacts }

// ReleaseNotesGenerationError wraps a changelog failure.
type ReleaseNotesGenerationError struct {
	Err error
}

func (e *ReleaseNotesGenerationError) Error() string {
	return fmt.Sprintf("release notes generation failed: %v", e.Err)
}

func (e *ReleaseNotesGenerationError) Unwrap() error { return e.Err }

// Code implements coder.
func (e *ReleaseNotesGenerationError) Code() ErrorCode { return CodeReleaseNotes }

// CodeOf returns the most specific code found in err's chain.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	switch {
	case errors.Is(err, ErrNotImplemented):
		return CodeNotImplemented
	case errors.Is(err, ErrInvalidJob):
		return CodeInvalidJob
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	}
	return CodeInternal
}
