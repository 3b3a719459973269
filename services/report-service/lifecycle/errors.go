package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable, transport-independent classification of an engine error.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindUnmetPrerequisite Kind = "unmet_prerequisite"
	KindValidation        Kind = "validation_error"
	KindConflict          Kind = "conflict"
	KindStorage           Kind = "storage_error"
)

// ErrNoOpTransition is wrapped by a TransitionError whose source and target match.
var ErrNoOpTransition = errors.New("requested status equals current status")

// ErrConflict is wrapped by every ConflictError.
var ErrConflict = errors.New("concurrent modification")

// Machine names the state machine a transition error belongs to.
type Machine string

const (
	MachineReport     Machine = "report"
	MachineAppeal     Machine = "appeal"
	MachineEscalation Machine = "escalation"
)

type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// TransitionError reports an edge that is absent from the adjacency table.
type TransitionError struct {
	Machine Machine
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("%s is already %s", e.Machine, e.To)
	}
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Machine, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e.From == e.To {
		return ErrNoOpTransition
	}
	return nil
}

// PrerequisiteError reports a legal edge whose preconditions do not hold.
type PrerequisiteError struct {
	Machine Machine
	From    string
	To      string
	Missing []Prerequisite
}

func (e *PrerequisiteError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		missing[i] = string(p)
	}
	return fmt.Sprintf("%s transition %s -> %s blocked: missing %s",
		e.Machine, e.From, e.To, strings.Join(missing, ", "))
}

// Has reports whether p is among the unmet prerequisites.
func (e *PrerequisiteError) Has(p Prerequisite) bool {
	for _, m := range e.Missing {
		if m == p {
			return true
		}
	}
	return false
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ConflictError signals that a row changed between read and write. It is safe
// to retry once after re-reading current state.
type ConflictError struct {
	Resource string
	ID       int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d was modified concurrently", e.Resource, e.ID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StorageError wraps an infrastructure failure from the entity store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// KindOf classifies err. Unknown errors are treated as storage failures.
func KindOf(err error) Kind {
	var (
		notFound   *NotFoundError
		transition *TransitionError
		prereq     *PrerequisiteError
		validation *ValidationError
		conflict   *ConflictError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &transition):
		return KindInvalidTransition
	case errors.As(err, &prereq):
		return KindUnmetPrerequisite
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &conflict):
		return KindConflict
	default:
		return KindStorage
	}
}

// DetailsOf returns the structured fields a caller needs to render an
// actionable message for err.
func DetailsOf(err error) map[string]any {
	details := map[string]any{"kind": KindOf(err)}
	var (
		notFound   *NotFoundError
		transition *TransitionError
		prereq     *PrerequisiteError
		validation *ValidationError
		conflict   *ConflictError
	)
	switch {
	case errors.As(err, &notFound):
		details["resource"] = notFound.Resource
		details["id"] = notFound.ID
	case errors.As(err, &transition):
		details["machine"] = transition.Machine
		details["current"] = transition.From
		details["requested"] = transition.To
		details["no_op"] = transition.From == transition.To
	case errors.As(err, &prereq):
		details["machine"] = prereq.Machine
		details["current"] = prereq.From
		details["requested"] = prereq.To
		details["missing"] = prereq.Missing
	case errors.As(err, &validation):
		details["field"] = validation.Field
		details["reason"] = validation.Reason
	case errors.As(err, &conflict):
		details["resource"] = conflict.Resource
		details["id"] = conflict.ID
	}
	return details
}

func isInfrastructure(err error) bool {
	k := KindOf(err)
	return k == KindStorage || k == KindConflict
}
