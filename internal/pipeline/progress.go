package pipeline

// ProgressRange is the slice of the 0-100 scale owned by one phase.
type ProgressRange struct {
	Start int
	End   int
}

// progressTable is the only place phase progress boundaries are defined.
var progressTable = map[Phase]ProgressRange{
	PhaseAnalyze:  {Start: 0, End: 33},
	PhaseOptimize: {Start: 33, End: 66},
	PhaseGenerate: {Start: 66, End: 100},
}

// MinReportedProgress is shown for running jobs that have not recorded progress yet.
const MinReportedProgress = 10

func RangeFor(p Phase) ProgressRange {
	return progressTable[p]
}

// At maps a fraction (0..1) of the phase onto the global scale.
func (r ProgressRange) At(fraction float64) int {
	if fraction <= 0 {
		return r.Start
	}
	if fraction >= 1 {
		return r.End
	}
	return r.Start + int(float64(r.End-r.Start)*fraction)
}

// ProgressFor returns the progress value a stage marker implies.
func ProgressFor(s Stage) int {
	for _, p := range Phases {
		switch s {
		case p.Started():
			return progressTable[p].Start
		case p.Completed():
			return progressTable[p].End
		}
	}
	return 0
}

// Monotonic never lets progress go backwards within a run.
func Monotonic(current, next int) int {
	if next < current {
		return current
	}
	if next > 100 {
		return 100
	}
	return next
}

// Reported is the progress value shown to polling clients.
func Reported(progress int) int {
	if progress < MinReportedProgress {
		return MinReportedProgress
	}
	if progress > 100 {
		return 100
	}
	return progress
}
