package ir

// Outcome is the terminal result of one planned change after apply.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeFailed  Outcome = "failed"
	// OutcomeSkipped means the change was never attempted because a
	// dependency failed or was itself skipped.
	OutcomeSkipped Outcome = "skipped"
	OutcomeNoOp    Outcome = "no-op"
	// OutcomePending means cancellation stopped the run before the
	// change could start.
	OutcomePending Outcome = "pending"
)

// Result is the outcome of a single change.
type Result struct {
	OpID    string
	Key     InstanceKey
	Action  Action
	Outcome Outcome
	Err     error
}

// Report enumerates every change's outcome, skipped and pending ones
// included, so the effect of a re-run is predictable. Outputs is
// populated only when every change applied.
type Report struct {
	Results []*Result
	Outputs map[string]any
}

// Succeeded reports whether every change reached applied or no-op.
func (r *Report) Succeeded() bool {
	for _, res := range r.Results {
		if res.Outcome != OutcomeApplied && res.Outcome != OutcomeNoOp {
			return false
		}
	}
	return true
}

// Count returns how many results carry the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}
