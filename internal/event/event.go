// Package event defines the canonical suspicious-activity event for the
// integrity engine. All detector reports are normalized to this structure
// before they enter a session's log.
package event

import (
	"fmt"
	"time"
)

// Type identifies the kind of anomaly a detector reported.
type Type string

const (
	TypeFaceNotDetected    Type = "face_not_detected"
	TypeMultipleFaces      Type = "multiple_faces"
	TypeLookingAway        Type = "looking_away"
	TypeSuspiciousMovement Type = "suspicious_movement"
	TypeTabSwitch          Type = "tab_switch"
	TypeCopyPaste          Type = "copy_paste"
	TypePhoneDetected      Type = "phone_detected"
	TypeVoiceDetected      Type = "voice_detected"
)

// Severity is the qualitative weight of an event used in scoring.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// severityByType maps each known event type to its ingestion-time severity.
// Types not present here fall back to SeverityMedium so a new detector can
// never silently downgrade an event.
var severityByType = map[Type]Severity{
	TypeFaceNotDetected:    SeverityMedium,
	TypeMultipleFaces:      SeverityHigh,
	TypeLookingAway:        SeverityLow,
	TypeSuspiciousMovement: SeverityMedium,
	TypeTabSwitch:          SeverityMedium,
	TypeCopyPaste:          SeverityHigh,
	TypePhoneDetected:      SeverityHigh,
	TypeVoiceDetected:      SeverityMedium,
}

// SeverityFor returns the mapped severity for an event type.
// Unknown types map to SeverityMedium.
func SeverityFor(t Type) Severity {
	if s, ok := severityByType[t]; ok {
		return s
	}
	return SeverityMedium
}

// Resolution records a reviewer's disposition against one event.
// Attaching a resolution never alters the original event fields.
type Resolution struct {
	ResolvedBy string    `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
	Notes      string    `json:"notes,omitempty"`
}

// Event is one detected anomaly inside a proctored session.
// Events are immutable once appended; only Resolution may be attached later.
type Event struct {
	Type        Type        `json:"type" validate:"required,event_type"`
	Confidence  float64     `json:"confidence" validate:"min=0,max=1"`
	Severity    Severity    `json:"severity" validate:"required,oneof=low medium high critical"`
	Timestamp   time.Time   `json:"timestamp" validate:"required"`
	Description string      `json:"description" validate:"required,max=2048"`
	EvidenceRef string      `json:"evidence_ref,omitempty" validate:"max=1024"`
	Resolution  *Resolution `json:"resolution,omitempty"`
}

// New builds an event with the severity assigned from the type mapping.
func New(t Type, confidence float64, description string) (Event, error) {
	return NewWithSeverity(t, confidence, description, SeverityFor(t))
}

// NewWithSeverity builds an event with an explicit severity, bypassing the
// mapping table. Used when a reviewer escalates manually.
func NewWithSeverity(t Type, confidence float64, description string, severity Severity) (Event, error) {
	if t == "" {
		return Event{}, fmt.Errorf("event: type is required")
	}
	if confidence < 0 || confidence > 1 {
		return Event{}, fmt.Errorf("event: confidence %v out of range [0,1]", confidence)
	}
	if description == "" {
		return Event{}, fmt.Errorf("event: description is required")
	}
	if !severity.IsValid() {
		return Event{}, fmt.Errorf("event: invalid severity %q", severity)
	}
	return Event{
		Type:        t,
		Confidence:  confidence,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Description: description,
	}, nil
}

// Resolved reports whether a reviewer has recorded a disposition.
func (e *Event) Resolved() bool {
	return e.Resolution != nil
}
