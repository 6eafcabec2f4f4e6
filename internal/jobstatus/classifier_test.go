package jobstatus

import (
	"testing"
	"time"
)

func i32(v int32) *int32 { return &v }

func TestClassifyTotality(t *testing.T) {
	counts := []*int32{nil, i32(0), i32(1), i32(2)}
	startTimes := []*time.Time{nil, timePtr(time.Unix(0, 0))}

	seen := map[Status]bool{}
	total := 0
	for _, active := range counts {
		for _, failed := range counts {
			for _, succeeded := range counts {
				for _, start := range startTimes {
					total++
					status, ok := Classify(Snapshot{Active: active, Failed: failed, Succeeded: succeeded, StartTime: start})
					if !ok {
						continue
					}
					seen[status] = true
					if got := matchCount(Snapshot{Active: active, Failed: failed, Succeeded: succeeded, StartTime: start}); got != 1 {
						t.Fatalf("active=%v failed=%v succeeded=%v start=%v matched %d rules, want exactly 1",
							deref(active), deref(failed), deref(succeeded), start != nil, got)
					}
				}
			}
		}
	}
	if total == 0 {
		t.Fatal("no combinations exercised")
	}
}

// matchCount re-implements each predicate independently (rather than
// reusing Classify's switch) so we can assert mutual exclusivity of
// the five rules, not just that Classify picks one of them.
func matchCount(s Snapshot) int {
	n := 0
	if gtZero(s.Active) && absentOrZero(s.Failed) {
		n++
	}
	if gtZero(s.Active) && gtZero(s.Failed) {
		n++
	}
	if s.StartTime == nil && s.Active == nil && s.Failed == nil && s.Succeeded == nil {
		n++
	}
	if absentOrZero(s.Active) && absentOrZero(s.Succeeded) && s.StartTime != nil {
		n++
	}
	if absentOrZero(s.Active) && gtZero(s.Succeeded) {
		n++
	}
	return n
}

func deref(v *int32) string {
	if v == nil {
		return "absent"
	}
	return "set"
}

func timePtr(t time.Time) *time.Time { return &t }

func TestClassifyE2E1Success(t *testing.T) {
	status, ok := Classify(Snapshot{Active: i32(0), Succeeded: i32(1), StartTime: timePtr(time.Now())})
	if !ok || status != Success {
		t.Fatalf("got status=%q ok=%v, want success", status, ok)
	}
}

func TestClassifyE2E2Failed(t *testing.T) {
	status, ok := Classify(Snapshot{Active: i32(0), Failed: i32(1), StartTime: timePtr(time.Now())})
	if !ok || status != Failed {
		t.Fatalf("got status=%q ok=%v, want failed", status, ok)
	}
}

func TestClassifyE2E3Retry(t *testing.T) {
	status, ok := Classify(Snapshot{Active: i32(1), Failed: i32(2)})
	if !ok || status != Retry {
		t.Fatalf("got status=%q ok=%v, want retry", status, ok)
	}
}

func TestClassifyStarting(t *testing.T) {
	status, ok := Classify(Snapshot{})
	if !ok || status != Starting {
		t.Fatalf("got status=%q ok=%v, want starting", status, ok)
	}
}

func TestClassifyAbsentWhenNoRuleMatches(t *testing.T) {
	// active present and 0, failed 0, succeeded 0, but no start time:
	// matches none of the five rules (rule 4 requires StartTime != nil).
	_, ok := Classify(Snapshot{Active: i32(0), Failed: i32(0), Succeeded: i32(0)})
	if ok {
		t.Fatal("expected no classification to match")
	}
}

func TestMostRecentCondition(t *testing.T) {
	older := Condition{Reason: "old", Message: "old msg", LastProbeTime: time.Unix(100, 0)}
	newer := Condition{Reason: "it hit the ground falling", Message: "it went splat", LastProbeTime: time.Unix(200, 0)}

	got, ok := MostRecentCondition([]Condition{older, newer})
	if !ok {
		t.Fatal("expected a condition")
	}
	if got != newer {
		t.Fatalf("got %+v, want %+v", got, newer)
	}

	if _, ok := MostRecentCondition(nil); ok {
		t.Fatal("expected no condition for empty list")
	}
}

func TestFailureReason(t *testing.T) {
	conds := []Condition{
		{Reason: "it hit the ground falling", Message: "it went splat", LastProbeTime: time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	want := "it hit the ground falling - it went splat"
	if got := FailureReason(conds); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := FailureReason(nil); got != "Unknown" {
		t.Fatalf("got %q, want Unknown", got)
	}
}
