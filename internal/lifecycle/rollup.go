package lifecycle

// RollupFunc derives a parent status from its children. ok is false when
// the children carry no information and the parent keeps its status.
type RollupFunc func(children []Status, verificationNeeded bool) (parent Status, ok bool)

// DefaultRollup aggregates children:
//   - all Assigned: Assigned
//   - verification on: all Verified gives Verified, all Finished or Verified gives Finished
//   - verification off: all Finished or Declined gives Finished
//   - anything else: InProgress
//
// It never yields Declined, so its result is legal for groups and cycles.
func DefaultRollup(children []Status, verificationNeeded bool) (Status, bool) {
	if len(children) == 0 {
		return "", false
	}
	counts := map[Status]int{}
	for _, st := range children {
		counts[st]++
	}
	n := len(children)
	if counts[Assigned] == n {
		return Assigned, true
	}
	if verificationNeeded {
		if counts[Verified] == n {
			return Verified, true
		}
		if counts[Finished]+counts[Verified] == n {
			return Finished, true
		}
		return InProgress, true
	}
	if counts[Finished]+counts[Declined]+counts[Verified] == n {
		return Finished, true
	}
	return InProgress, true
}

// Apply runs fn and falls back to current when fn has nothing to say.
func (fn RollupFunc) Apply(current Status, children []Status, verificationNeeded bool) Status {
	if fn == nil {
		fn = DefaultRollup
	}
	if next, ok := fn(children, verificationNeeded); ok {
		return next
	}
	return current
}
