package lifecycle

// IsArchived reports whether a cycle in status belongs to history.
// With verification only Verified archives; without it Finished and
// Declined do.
func IsArchived(status Status, verificationNeeded bool) bool {
	if verificationNeeded {
		return status == Verified
	}
	return status == Finished || status == Declined
}

// IsCurrent is the stored form of the history decision.
func IsCurrent(status Status, verificationNeeded bool) bool {
	return !IsArchived(status, verificationNeeded)
}

// Outcome is the state of a cycle after a status write has been applied.
type Outcome struct {
	TaskStatus  Status
	GroupStatus Status
	CycleStatus Status
	IsCurrent   bool
}

// Cascade recomputes a group and its cycle after one task in the group
// moved to taskStatus. siblings are the statuses of the other tasks in the
// group and otherGroups the statuses of the cycle's remaining groups.
func Cascade(fn RollupFunc, verificationNeeded bool, group, cycle Status, taskStatus Status, siblings, otherGroups []Status) Outcome {
	groupChildren := append(append([]Status{}, siblings...), taskStatus)
	nextGroup := fn.Apply(group, groupChildren, verificationNeeded)
	cycleChildren := append(append([]Status{}, otherGroups...), nextGroup)
	nextCycle := fn.Apply(cycle, cycleChildren, verificationNeeded)
	return Outcome{
		TaskStatus:  taskStatus,
		GroupStatus: nextGroup,
		CycleStatus: nextCycle,
		IsCurrent:   IsCurrent(nextCycle, verificationNeeded),
	}
}
