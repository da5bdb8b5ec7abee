package scheduler

import "sync/atomic"

type counters struct {
	cycles      atomic.Int64
	fetchErrors atomic.Int64
	executed    atomic.Int64
	failed      atomic.Int64
	skipped     atomic.Int64
	saveErrors  atomic.Int64
}

// Stats is a point-in-time copy of the engine's lifetime counters.
type Stats struct {
	Cycles      int64
	FetchErrors int64
	Executed    int64
	Failed      int64
	Skipped     int64
	SaveErrors  int64
}

func (e *Engine) Stats() Stats {
	return Stats{
		Cycles:      e.stats.cycles.Load(),
		FetchErrors: e.stats.fetchErrors.Load(),
		Executed:    e.stats.executed.Load(),
		Failed:      e.stats.failed.Load(),
		Skipped:     e.stats.skipped.Load(),
		SaveErrors:  e.stats.saveErrors.Load(),
	}
}
