package harness

// Trace event kinds.
const (
	EventStep         = "step"
	EventRequest      = "request"
	EventVariables    = "variables"
	EventRefresh      = "refresh"
	EventNotification = "notification"
)

// TraceEvent is one observed effect of running a scenario. Fields holds
// the kind-specific data:
//
//	step          do, error
//	request       datasource, query, payload, failed
//	variables     values, replace
//	refresh       (none)
//	notification  level, message
type TraceEvent struct {
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
	Seq    int64          `json:"seq"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success: every step behaved as expected
	// and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every observed event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Count returns the number of trace events of kind.
func (r *Result) Count(kind string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Type == kind {
			n++
		}
	}
	return n
}
