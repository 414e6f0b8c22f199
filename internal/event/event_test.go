package event

import (
	"testing"
	"time"
)

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		want Severity
	}{
		{"looking away is low", TypeLookingAway, SeverityLow},
		{"face not detected is medium", TypeFaceNotDetected, SeverityMedium},
		{"tab switch is medium", TypeTabSwitch, SeverityMedium},
		{"suspicious movement is medium", TypeSuspiciousMovement, SeverityMedium},
		{"voice detected is medium", TypeVoiceDetected, SeverityMedium},
		{"multiple faces is high", TypeMultipleFaces, SeverityHigh},
		{"copy paste is high", TypeCopyPaste, SeverityHigh},
		{"phone detected is high", TypePhoneDetected, SeverityHigh},
		{"unknown type defaults to medium", Type("gaze_tracker_offline"), SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SeverityFor(tt.typ); got != tt.want {
				t.Errorf("SeverityFor(%q) = %q, want %q", tt.typ, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	ev, err := New(TypeTabSwitch, 0.92, "candidate switched to another tab")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if ev.Severity != SeverityMedium {
		t.Errorf("severity = %q, want %q", ev.Severity, SeverityMedium)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if ev.Resolved() {
		t.Error("new event must not be resolved")
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name        string
		typ         Type
		confidence  float64
		description string
	}{
		{"empty type", "", 0.5, "desc"},
		{"negative confidence", TypeTabSwitch, -0.1, "desc"},
		{"confidence above one", TypeTabSwitch, 1.1, "desc"},
		{"empty description", TypeTabSwitch, 0.5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.typ, tt.confidence, tt.description); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewWithSeverityOverride(t *testing.T) {
	ev, err := NewWithSeverity(TypeLookingAway, 0.99, "sustained off-screen gaze", SeverityCritical)
	if err != nil {
		t.Fatalf("NewWithSeverity failed: %v", err)
	}
	if ev.Severity != SeverityCritical {
		t.Errorf("severity = %q, want critical", ev.Severity)
	}

	if _, err := NewWithSeverity(TypeLookingAway, 0.5, "desc", Severity("extreme")); err == nil {
		t.Error("expected error for invalid severity")
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	valid, err := New(TypePhoneDetected, 0.88, "phone visible in frame")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := v.Validate(&valid); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"bad type format", func(e *Event) { e.Type = "Tab-Switch" }},
		{"future timestamp", func(e *Event) { e.Timestamp = time.Now().Add(time.Hour) }},
		{"stale timestamp", func(e *Event) { e.Timestamp = time.Now().Add(-48 * time.Hour) }},
		{"invalid severity", func(e *Event) { e.Severity = "urgent" }},
		{"missing description", func(e *Event) { e.Description = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			if err := v.Validate(&ev); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
