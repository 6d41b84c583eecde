package harness

// Trace event kinds.
const (
	KindDaemon = "daemon"
	KindSetup  = "setup"
	KindAssert = "assert"
)

// Outcomes recorded in the trace.
const (
	OutcomeOK   = "ok"
	OutcomeFail = "fail"
)

// TraceEvent records one step of a scenario run. Events carry no pids,
// timestamps or paths so that traces are stable across runs.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Unit    string `json:"unit,omitempty"`
	Outcome string `json:"outcome"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: no step failed.
	Pass bool `json:"pass"`

	// Trace contains every step in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains one message per recorded failure.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Failures is the number of failures this scenario added to the run.
	Failures int `json:"failures"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event with the next sequence number.
func (r *Result) AddTrace(kind, name, unit string, ok bool) {
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeFail
	}
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     int64(len(r.Trace) + 1),
		Kind:    kind,
		Name:    name,
		Unit:    unit,
		Outcome: outcome,
	})
}
