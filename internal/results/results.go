// Package results implements the results aggregator (C11): reduces
// per-worker pass counters up to target-level and run-level rows and
// invokes a caller-supplied callback per row, per §4.10. The aggregator
// carries no opinion about output formatting — that is the collaborator's
// concern (§1's "report printer" is explicitly out of scope); this
// package only produces the record a formatter would consume.
package results

// WorkerPassStats is what one worker contributes for one pass.
type WorkerPassStats struct {
	WorkerNumber   int
	ReadOps        int64
	WriteOps       int64
	ReadBytes      int64
	WriteBytes     int64
	EarliestStart  uint64
	LatestEnd      uint64
	SumOpLatencyNs uint64
	OpCount        int64
	CPUUserNs      uint64
	CPUSystemNs    uint64
}

// TargetRow is the reduction of all of one target's workers for one pass.
type TargetRow struct {
	TargetName    string
	PassNumber    int64
	ReadOps       int64
	WriteOps      int64
	ReadBytes     int64
	WriteBytes    int64
	EarliestNs    uint64
	LatestNs      uint64
	ElapsedNs     uint64
	BandwidthBPS  float64
	MeanLatencyNs float64
	CPUUserNs     uint64
	CPUSystemNs   uint64
}

// RunRow is the reduction of every target's TargetRow for one pass.
type RunRow struct {
	PassNumber int64
	TotalBytes int64
	EarliestNs uint64
	LatestNs   uint64
	ElapsedNs  uint64
}

// RowCallback receives one emitted row. The aggregator calls it once
// per target per pass, then once per pass for the run-level reduction.
type RowCallback interface {
	TargetRow(row TargetRow)
	RunRow(row RunRow)
}

// ReduceWorkers folds a target's per-worker pass stats into one
// TargetRow, per §4.10 ("target elapsed = max(end) − min(start),
// aggregated bandwidth = bytes / elapsed, latency = mean of per-op
// elapsed").
func ReduceWorkers(targetName string, passNumber int64, workers []WorkerPassStats) TargetRow {
	row := TargetRow{TargetName: targetName, PassNumber: passNumber}
	if len(workers) == 0 {
		return row
	}

	earliest := workers[0].EarliestStart
	latest := workers[0].LatestEnd
	var totalLatencyNs uint64
	var totalOps int64

	for _, w := range workers {
		row.ReadOps += w.ReadOps
		row.WriteOps += w.WriteOps
		row.ReadBytes += w.ReadBytes
		row.WriteBytes += w.WriteBytes
		row.CPUUserNs += w.CPUUserNs
		row.CPUSystemNs += w.CPUSystemNs
		totalLatencyNs += w.SumOpLatencyNs
		totalOps += w.OpCount

		if w.EarliestStart < earliest {
			earliest = w.EarliestStart
		}
		if w.LatestEnd > latest {
			latest = w.LatestEnd
		}
	}

	row.EarliestNs = earliest
	row.LatestNs = latest
	row.ElapsedNs = latest - earliest
	totalBytes := row.ReadBytes + row.WriteBytes
	if row.ElapsedNs > 0 {
		row.BandwidthBPS = float64(totalBytes) / (float64(row.ElapsedNs) / 1e9)
	}
	if totalOps > 0 {
		row.MeanLatencyNs = float64(totalLatencyNs) / float64(totalOps)
	}

	return row
}

// ReduceTargets folds every target's TargetRow for one pass into the
// run-level RunRow, per §4.10 ("union min/max times, sum bytes").
func ReduceTargets(passNumber int64, targets []TargetRow) RunRow {
	row := RunRow{PassNumber: passNumber}
	if len(targets) == 0 {
		return row
	}

	earliest := targets[0].EarliestNs
	latest := targets[0].LatestNs

	for _, tr := range targets {
		row.TotalBytes += tr.ReadBytes + tr.WriteBytes
		if tr.EarliestNs < earliest {
			earliest = tr.EarliestNs
		}
		if tr.LatestNs > latest {
			latest = tr.LatestNs
		}
	}

	row.EarliestNs = earliest
	row.LatestNs = latest
	row.ElapsedNs = latest - earliest
	return row
}

// Aggregator runs the results-reduction step once per pass. It does not
// wait on a barrier itself: Run.Execute calls RunPass after it has
// collected every target's outcome for the pass.
type Aggregator struct {
	callback RowCallback
}

// New creates an Aggregator that invokes callback for each row it produces.
func New(callback RowCallback) *Aggregator {
	return &Aggregator{callback: callback}
}

// RunPass reduces one pass's per-target worker stats and emits the
// TargetRow and RunRow via the configured callback.
func (a *Aggregator) RunPass(passNumber int64, perTarget map[string][]WorkerPassStats) RunRow {
	targetRows := make([]TargetRow, 0, len(perTarget))
	for name, workers := range perTarget {
		row := ReduceWorkers(name, passNumber, workers)
		targetRows = append(targetRows, row)
		if a.callback != nil {
			a.callback.TargetRow(row)
		}
	}

	runRow := ReduceTargets(passNumber, targetRows)
	if a.callback != nil {
		a.callback.RunRow(runRow)
	}
	return runRow
}
