package reconcile

// Outcome describes what a dispatch did to local state.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeIgnored    Outcome = "ignored"
	// OutcomeFailed is recorded by callers when Dispatch returned an error.
	OutcomeFailed Outcome = "failed"
)

// Result is returned by Engine.Dispatch.
type Result struct {
	Outcome Outcome
	OrderID int64
	Reason  string
}

func applied(orderID int64) Result {
	return Result{Outcome: OutcomeApplied, OrderID: orderID}
}

func skipped(orderID int64, reason string) Result {
	return Result{Outcome: OutcomeSkipped, OrderID: orderID, Reason: reason}
}

func unresolved(reason string) Result {
	return Result{Outcome: OutcomeUnresolved, Reason: reason}
}

func ignored(reason string) Result {
	return Result{Outcome: OutcomeIgnored, Reason: reason}
}
