package pipeline

import "time"

// StallReason explains why a running job is considered stuck.
type StallReason string

const (
	NotStalled        StallReason = ""
	StallHardTimeout  StallReason = "hard_timeout"
	StallNoHeartbeats StallReason = "stale"
)

// StallPolicy holds the two caps applied to running jobs: a wall-clock cap
// measured from startTime and a staleness cap measured from lastUpdated.
type StallPolicy struct {
	HardTimeout time.Duration
	StaleAfter  time.Duration
}

func DefaultStallPolicy() StallPolicy {
	return StallPolicy{
		HardTimeout: 5 * time.Minute,
		StaleAfter:  10 * time.Minute,
	}
}

// Check returns the stall reason for a job, or NotStalled.
// Zero timestamps are ignored so a freshly reset record never looks stalled.
func (p StallPolicy) Check(processing bool, startTime, lastUpdated, now time.Time) StallReason {
	if !processing {
		return NotStalled
	}
	if p.HardTimeout > 0 && !startTime.IsZero() && now.Sub(startTime) > p.HardTimeout {
		return StallHardTimeout
	}
	ref := lastUpdated
	if ref.IsZero() {
		ref = startTime
	}
	if p.StaleAfter > 0 && !ref.IsZero() && now.Sub(ref) > p.StaleAfter {
		return StallNoHeartbeats
	}
	return NotStalled
}

func (p StallPolicy) Stalled(processing bool, startTime, lastUpdated, now time.Time) bool {
	return p.Check(processing, startTime, lastUpdated, now) != NotStalled
}
