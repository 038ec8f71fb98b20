package reconcile

import "sync/atomic"

// Stats counts dispatch outcomes since process start.
type Stats struct {
	applied    atomic.Int64
	skipped    atomic.Int64
	unresolved atomic.Int64
	ignored    atomic.Int64
	failed     atomic.Int64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) Record(o Outcome) {
	switch o {
	case OutcomeApplied:
		s.applied.Add(1)
	case OutcomeSkipped:
		s.skipped.Add(1)
	case OutcomeUnresolved:
		s.unresolved.Add(1)
	case OutcomeIgnored:
		s.ignored.Add(1)
	case OutcomeFailed:
		s.failed.Add(1)
	}
}

func (s *Stats) Unresolved() int64 {
	return s.unresolved.Load()
}

// Snapshot returns the current counters keyed by outcome name.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		string(OutcomeApplied):    s.applied.Load(),
		string(OutcomeSkipped):    s.skipped.Load(),
		string(OutcomeUnresolved): s.unresolved.Load(),
		string(OutcomeIgnored):    s.ignored.Load(),
		string(OutcomeFailed):     s.failed.Load(),
	}
}
