package harness

import "github.com/roach88/orgsync/internal/reconcile"

// StepTrace is what one step did.
type StepTrace struct {
	Step      int               `json:"step"`
	Op        string            `json:"op"`
	Report    *reconcile.Report `json:"report,omitempty"`
	Count     *int              `json:"count,omitempty"`
	Mutations []string          `json:"mutations"`
	Error     string            `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// mutations returns the mutations of step (1-based), or of the whole run
// when step is zero.
func (r *Result) mutations(step int) []string {
	if step > 0 {
		if step > len(r.Trace) {
			return nil
		}
		return r.Trace[step-1].Mutations
	}
	var all []string
	for _, st := range r.Trace {
		all = append(all, st.Mutations...)
	}
	return all
}
