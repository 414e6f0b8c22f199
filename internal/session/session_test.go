package session

import (
	"testing"
	"time"

	"proctor-engine/internal/event"
	"proctor-engine/internal/scoring"
)

func TestNewSession(t *testing.T) {
	s := New("student-1", true, true, map[string]string{"os": "linux"})

	if s.Status != StatusActive {
		t.Errorf("status = %q, want active", s.Status)
	}
	if s.SubjectID != "student-1" {
		t.Errorf("subject = %q", s.SubjectID)
	}
	if !s.ConsentGiven || !s.ComplianceChecks {
		t.Error("compliance flags not recorded")
	}
	if s.Events == nil || len(s.Events) != 0 {
		t.Error("events should be an empty, non-nil slice")
	}
	if s.Aggregates.RiskLevel != scoring.RiskLow {
		t.Errorf("initial risk level = %q, want low", s.Aggregates.RiskLevel)
	}
	if s.EndTime != nil {
		t.Error("new session should have no end time")
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		status   Status
		valid    bool
		terminal bool
	}{
		{StatusActive, true, false},
		{StatusCompleted, true, true},
		{StatusTerminated, true, true},
		{StatusFailed, true, true},
		{Status("paused"), false, false},
		{Status(""), false, false},
	}

	for _, tt := range tests {
		if got := tt.status.IsValid(); got != tt.valid {
			t.Errorf("%q IsValid = %v, want %v", tt.status, got, tt.valid)
		}
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%q IsTerminal = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestRecompute(t *testing.T) {
	policy := scoring.DefaultPolicy()
	s := New("student-1", true, true, nil)

	ev, err := event.New(event.TypeTabSwitch, 0.9, "switched tab")
	if err != nil {
		t.Fatal(err)
	}
	s.Events = append(s.Events, ev)
	s.Recompute(policy)

	if s.Aggregates.TotalEvents != 1 {
		t.Errorf("total events = %d, want 1", s.Aggregates.TotalEvents)
	}
	if s.Aggregates.RiskScore != policy.PointsMedium {
		t.Errorf("risk score = %d, want %d", s.Aggregates.RiskScore, policy.PointsMedium)
	}
	if s.Aggregates.UnresolvedCount != 1 {
		t.Errorf("unresolved = %d, want 1", s.Aggregates.UnresolvedCount)
	}
	if s.Aggregates.FlaggedForReview {
		t.Error("one medium event should not flag")
	}
}

func TestRecomputeStickyManualFlag(t *testing.T) {
	policy := scoring.DefaultPolicy()
	s := New("student-1", true, true, nil)

	s.ManuallyFlagged = true
	s.Recompute(policy)
	if !s.Aggregates.FlaggedForReview {
		t.Error("manual flag not reflected in aggregates")
	}

	// Recomputing with an empty log keeps the manual flag in effect.
	s.Recompute(policy)
	if !s.Aggregates.FlaggedForReview {
		t.Error("manual flag lost on recompute")
	}
}

func TestClone(t *testing.T) {
	s := New("student-1", true, false, map[string]string{"browser": "firefox"})
	ev, _ := event.New(event.TypeTabSwitch, 0.8, "switched tab")
	ev.Resolution = &event.Resolution{ResolvedBy: "reviewer-1", ResolvedAt: time.Now().UTC()}
	s.Events = append(s.Events, ev)
	end := time.Now().UTC()
	s.EndTime = &end
	s.Notes = append(s.Notes, Note{Author: "a", Reason: "r", CreatedAt: end})

	c := s.Clone()

	c.Events[0].Description = "mutated"
	c.Events[0].Resolution.ResolvedBy = "mutated"
	c.DeviceInfo["browser"] = "mutated"
	*c.EndTime = end.Add(time.Hour)
	c.Notes[0].Author = "mutated"

	if s.Events[0].Description == "mutated" {
		t.Error("clone shares event slice")
	}
	if s.Events[0].Resolution.ResolvedBy == "mutated" {
		t.Error("clone shares resolution pointer")
	}
	if s.DeviceInfo["browser"] == "mutated" {
		t.Error("clone shares device info map")
	}
	if !s.EndTime.Equal(end) {
		t.Error("clone shares end time pointer")
	}
	if s.Notes[0].Author == "mutated" {
		t.Error("clone shares notes slice")
	}
}

func TestDuration(t *testing.T) {
	s := New("student-1", true, true, nil)
	s.StartTime = time.Now().UTC().Add(-time.Minute)

	if d := s.Duration(); d < time.Minute {
		t.Errorf("active duration = %v, want >= 1m", d)
	}

	end := s.StartTime.Add(30 * time.Second)
	s.EndTime = &end
	if d := s.Duration(); d != 30*time.Second {
		t.Errorf("ended duration = %v, want 30s", d)
	}
}

func TestSummarize(t *testing.T) {
	policy := scoring.DefaultPolicy()
	s := New("student-1", true, true, nil)
	ev, _ := event.NewWithSeverity(event.TypePhoneDetected, 0.99, "phone visible", event.SeverityCritical)
	s.Events = append(s.Events, ev)
	s.Recompute(policy)

	sum := s.Summarize()
	if sum.ID != s.ID || sum.SubjectID != s.SubjectID {
		t.Error("identity fields not carried")
	}
	if sum.RiskScore != s.Aggregates.RiskScore {
		t.Errorf("risk score = %d, want %d", sum.RiskScore, s.Aggregates.RiskScore)
	}
	if sum.RiskLevel != scoring.RiskCritical {
		t.Errorf("risk level = %q, want critical", sum.RiskLevel)
	}
	if !sum.FlaggedForReview {
		t.Error("critical event should flag the summary")
	}
}
