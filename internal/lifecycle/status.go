// Package lifecycle holds the status rules shared by cycle tasks, cycle task
// groups and cycles: which statuses are legal under a verification mode, how
// child statuses aggregate into a parent, and when a cycle leaves "current".
package lifecycle

import (
	"cycleline/internal/apperr"
)

type Status string

const (
	Assigned   Status = "Assigned"
	InProgress Status = "InProgress"
	Finished   Status = "Finished"
	Declined   Status = "Declined"
	Verified   Status = "Verified"
)

// Statuses lists the shared status domain in lifecycle order.
var Statuses = []Status{Assigned, InProgress, Finished, Declined, Verified}

// Kind names the entity a status is written to.
type Kind string

const (
	KindCycleTask      Kind = "cycle_task"
	KindCycleTaskGroup Kind = "cycle_task_group"
	KindCycle          Kind = "cycle"
)

var Kinds = []Kind{KindCycleTask, KindCycleTaskGroup, KindCycle}

// ParseStatus accepts the canonical spelling plus the spaced "In Progress".
func ParseStatus(s string) (Status, error) {
	switch s {
	case "In Progress", "in_progress":
		return InProgress, nil
	}
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperr.Invalid("status", "unknown status %q", s)
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", apperr.Invalid("entity_kind", "unknown entity kind %q", s)
}

// AllowedStatuses returns the statuses an entity of kind may hold.
// Groups never decline; nothing is Verified when verification is off.
func AllowedStatuses(kind Kind, verificationNeeded bool) []Status {
	out := make([]Status, 0, len(Statuses))
	for _, st := range Statuses {
		if st == Declined && kind == KindCycleTaskGroup {
			continue
		}
		if st == Verified && !verificationNeeded {
			continue
		}
		out = append(out, st)
	}
	return out
}

// IsAllowed reports whether status is legal for kind under the mode.
func IsAllowed(kind Kind, status Status, verificationNeeded bool) bool {
	for _, st := range AllowedStatuses(kind, verificationNeeded) {
		if st == status {
			return true
		}
	}
	return false
}

// CheckTransition validates a direct assignment of to on an entity of kind.
// Any legal status is reachable from any other.
func CheckTransition(kind Kind, to Status, verificationNeeded bool) error {
	if _, err := ParseStatus(string(to)); err != nil {
		return err
	}
	if !IsAllowed(kind, to, verificationNeeded) {
		if to == Verified {
			return apperr.Constraint("status", "%s cannot be %s when verification is not required", kind, to)
		}
		return apperr.Constraint("status", "%s cannot be %s", kind, to)
	}
	return nil
}
