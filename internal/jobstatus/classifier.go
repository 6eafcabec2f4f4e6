// Package jobstatus derives a small, closed set of lifecycle statuses
// from a Kubernetes Job's noisy, eventually-consistent status object.
// Classify is the pure, total heart of the reaper: it never touches
// the network or the clock, which is what makes §8's totality
// property checkable in a table-driven test.
package jobstatus

import "time"

type Status string

const (
	Starting Status = "starting"
	Running  Status = "running"
	Retry    Status = "retry"
	Failed   Status = "failed"
	Success  Status = "success"
)

// Condition mirrors a single entry of a Job's status.conditions list.
type Condition struct {
	Reason        string
	Message       string
	LastProbeTime time.Time
}

// Snapshot is the subset of a Job's status this system reasons about.
// Active, Failed and Succeeded are nil when the cluster has not yet
// reported a value for them.
type Snapshot struct {
	Active     *int32
	Failed     *int32
	Succeeded  *int32
	StartTime  *time.Time
	Conditions []Condition
}

func gtZero(v *int32) bool       { return v != nil && *v > 0 }
func absentOrZero(v *int32) bool { return v == nil || *v == 0 }

// Classify maps a Snapshot to a Status. The second return value is
// false when no rule matches (e.g. a snapshot observed before any
// scheduling has happened with a StartTime already set) — callers
// should treat that as "no transition to report".
//
// Rules are evaluated in order; the first match wins. Order matters:
// retry must be tested before starting/failed, since a retrying job
// also satisfies their weaker shapes.
func Classify(s Snapshot) (Status, bool) {
	switch {
	case gtZero(s.Active) && absentOrZero(s.Failed):
		return Running, true
	case gtZero(s.Active) && gtZero(s.Failed):
		return Retry, true
	case s.StartTime == nil && s.Active == nil && s.Failed == nil && s.Succeeded == nil:
		return Starting, true
	case absentOrZero(s.Active) && absentOrZero(s.Succeeded) && s.StartTime != nil:
		return Failed, true
	case absentOrZero(s.Active) && gtZero(s.Succeeded):
		return Success, true
	default:
		return "", false
	}
}

// MostRecentCondition returns the condition with the greatest
// LastProbeTime, or false if conditions is empty.
func MostRecentCondition(conditions []Condition) (Condition, bool) {
	if len(conditions) == 0 {
		return Condition{}, false
	}
	best := conditions[0]
	for _, c := range conditions[1:] {
		if c.LastProbeTime.After(best.LastProbeTime) {
			best = c
		}
	}
	return best, true
}

// FailureReason renders the most recent condition as "<reason> -
// <message>", or "Unknown" if there are no conditions.
func FailureReason(conditions []Condition) string {
	c, ok := MostRecentCondition(conditions)
	if !ok {
		return "Unknown"
	}
	return c.Reason + " - " + c.Message
}
