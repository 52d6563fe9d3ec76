package dagrun

import (
	"fmt"

	"github.com/google/uuid"
)

// ReferenceResolutionFailure means the referenced (uuid, index) was
// absent from the store when a Reference was resolved and the job's
// on_missing_references policy was fail.
type ReferenceResolutionFailure struct {
	UUID uuid.UUID
	Err  error
}

func (e *ReferenceResolutionFailure) Error() string {
	return fmt.Sprintf("dagrun: resolving reference to %s: %v", e.UUID, e.Err)
}

func (e *ReferenceResolutionFailure) Unwrap() error { return e.Err }

// JobExecutionFailure wraps an error raised by a job's function. The
// Manager records it and marks the job's dependents skipped; it never
// recovers on behalf of user code.
type JobExecutionFailure struct {
	UUID  uuid.UUID
	Index int
	Err   error
}

func (e *JobExecutionFailure) Error() string {
	return fmt.Sprintf("dagrun: job %s (index %d) failed: %v", e.UUID, e.Index, e.Err)
}

func (e *JobExecutionFailure) Unwrap() error { return e.Err }

// ResponseInterpretationFailure means a Response returned by a job was
// structurally invalid (e.g. a replace graph without a single leaf
// output, or both replace and detour populated). Fatal to the run.
type ResponseInterpretationFailure struct {
	UUID uuid.UUID
	Msg  string
}

func (e *ResponseInterpretationFailure) Error() string {
	return fmt.Sprintf("dagrun: invalid response from job %s: %s", e.UUID, e.Msg)
}

// StoreBackendFailure wraps an error surfaced unchanged from the
// JobStore. Fatal to the run; the Manager does not retry.
type StoreBackendFailure struct {
	Err error
}

func (e *StoreBackendFailure) Error() string {
	return fmt.Sprintf("dagrun: store backend failure: %v", e.Err)
}

func (e *StoreBackendFailure) Unwrap() error { return e.Err }

// errCombinedDirective builds the fatal error for a Response that sets
// both Replace and Detour. Combining the two is ambiguous; this
// implementation rejects it rather than define an ordering.
func errCombinedDirective(id uuid.UUID) error {
	return &ResponseInterpretationFailure{UUID: id, Msg: "response sets both replace and detour"}
}
