package models

// Status is the lifecycle state shared by builds and deployments.
type Status string

const (
	StatusPending Status = "pending"
	StatusPlaced  Status = "placed"
	StatusRunning Status = "running"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"

	// StatusUnknown is the image of external statuses we do not recognise.
	// It is never persisted.
	StatusUnknown Status = "unknown"
)

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReady, StatusError, StatusAborted:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a status that may be stored.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPlaced, StatusRunning, StatusReady, StatusError, StatusAborted:
		return true
	default:
		return false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPlaced:
		return 1
	case StatusRunning:
		return 2
	case StatusReady, StatusError, StatusAborted:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from one status to another respects
// the lifecycle: pending -> placed -> running -> (ready | error | aborted).
// Terminal states accept nothing. Aborted is reachable from any non-terminal
// state, and a job may skip straight past running.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == StatusAborted {
		return true
	}
	return to.rank() > from.rank()
}

// RevisionStatus is the publication state of a revision.
type RevisionStatus string

const (
	RevisionDraft      RevisionStatus = "draft"
	RevisionPublished  RevisionStatus = "published"
	RevisionDeprecated RevisionStatus = "deprecated"
)

// Target is the environment a deployment runs in.
type Target string

const (
	TargetDevelopment Target = "development"
	TargetPreview     Target = "preview"
	TargetProduction  Target = "production"
)

// Valid reports whether t is a known deployment target.
func (t Target) Valid() bool {
	switch t {
	case TargetDevelopment, TargetPreview, TargetProduction:
		return true
	default:
		return false
	}
}

// TriggerType records what started a build.
type TriggerType string

const (
	TriggerManual TriggerType = "manual"
	TriggerGit    TriggerType = "git"
)
