package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a collaborator failure for retry-policy decisions.
// Kinds absent from the policy table are terminal for the affected item.
type ErrorKind string

const (
	KindMailQuota         ErrorKind = "mail_quota"
	KindSiteUnreachable   ErrorKind = "site_unreachable"
	KindPermanentFetch    ErrorKind = "permanent_fetch"
	KindAutomationTimeout ErrorKind = "automation_timeout"
	KindGenerationTimeout ErrorKind = "generation_timeout"
	KindSessionLocked     ErrorKind = "session_locked"
	KindTransientSend     ErrorKind = "transient_send"
	KindPayloadTooLarge   ErrorKind = "payload_too_large"
	KindConflict          ErrorKind = "conflict"
	KindUnknown           ErrorKind = "unknown"
)

// Store sentinels.
var (
	// ErrConflict is returned by the job store when an upsert would re-admit a
	// fingerprint that already reached a terminal success state.
	ErrConflict = errors.New("job already finished")

	// ErrNotFound is returned when a fingerprint has no job record.
	ErrNotFound = errors.New("job not found")

	// ErrRunLockHeld is returned when another live run holds the run lock.
	ErrRunLockHeld = errors.New("run lock held by another run")
)

// StageError carries a classified collaborator failure through a stage
// runner. WorkspaceID, when set, identifies a partially created external
// workspace the stage must clean up.
type StageError struct {
	Kind        ErrorKind
	WorkspaceID string
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with a retry-policy kind. workspaceID is empty
// unless a partial external workspace was left behind.
func NewStageError(kind ErrorKind, workspaceID string, err error) error {
	return &StageError{Kind: kind, WorkspaceID: workspaceID, Err: err}
}

// KindOf extracts the classified kind from err. Unclassified errors are
// KindUnknown, which no policy row matches, so they are terminal.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrConflict) {
		return KindConflict
	}
	return KindUnknown
}

// WorkspaceOf returns the partial workspace id recorded on err, if any.
func WorkspaceOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.WorkspaceID
	}
	return ""
}
