package realtime

import "fmt"

// Collaborator stages reported by [CollaboratorError].
const (
	StageVAD = "vad"
	StageSTT = "stt"
)

// CollaboratorError ends a session when the voice activity detector or a
// transcriptor fails.
type CollaboratorError struct {
	// Stage is [StageVAD] or [StageSTT].
	Stage string
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("realtime: %s failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
