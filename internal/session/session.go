// Package session defines the monitored record of one exam attempt and the
// stores that persist it. Sessions are owned by the monitor package; nothing
// else writes them.
package session

import (
	"time"

	"github.com/google/uuid"

	"proctor-engine/internal/event"
	"proctor-engine/internal/scoring"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
	StatusFailed     Status = "failed"
)

// IsValid checks if the status is a valid value.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusTerminated, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusTerminated || s == StatusFailed
}

// Aggregates is the derived view of a session's event log. It is recomputed
// from the log on every mutation and must never drift from it.
type Aggregates struct {
	TotalEvents       int               `json:"total_events"`
	SeverityBreakdown scoring.Breakdown `json:"severity_breakdown"`
	RiskScore         int               `json:"risk_score"`
	RiskLevel         scoring.RiskLevel `json:"risk_level"`
	FlaggedForReview  bool              `json:"flagged_for_review"`
	UnresolvedCount   int               `json:"unresolved_count"`
}

// Note is a reviewer annotation on session metadata.
type Note struct {
	Author    string    `json:"author"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the full monitored record of one exam attempt.
type Session struct {
	ID         uuid.UUID  `json:"id"`
	SubjectID  string     `json:"subject_id"`
	ReviewerID string     `json:"reviewer_id,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Status     Status     `json:"status"`

	// Compliance flags recorded once at start, immutable afterward.
	ConsentGiven     bool `json:"consent_given"`
	ComplianceChecks bool `json:"compliance_checks"`

	DeviceInfo map[string]string `json:"device_info,omitempty"`

	// Events is append-only; resolving a violation attaches a disposition,
	// it never removes history.
	Events []event.Event `json:"events"`

	Aggregates Aggregates `json:"aggregates"`

	// ManuallyFlagged is set by FlagForReview and is sticky; the effective
	// FlaggedForReview aggregate is manual OR the automatic rule.
	ManuallyFlagged bool   `json:"manually_flagged,omitempty"`
	Notes           []Note `json:"notes,omitempty"`
}

// New creates an active session for one exam attempt.
func New(subjectID string, consent, compliance bool, deviceInfo map[string]string) *Session {
	return &Session{
		ID:               uuid.New(),
		SubjectID:        subjectID,
		StartTime:        time.Now().UTC(),
		Status:           StatusActive,
		ConsentGiven:     consent,
		ComplianceChecks: compliance,
		DeviceInfo:       deviceInfo,
		Events:           make([]event.Event, 0),
		Aggregates: Aggregates{
			RiskLevel: scoring.RiskLow,
		},
	}
}

// Recompute rederives the aggregates from the event log and policy.
// The flagged aggregate is sticky: once set, only a reviewer can clear it.
func (s *Session) Recompute(policy scoring.Policy) {
	r := policy.Evaluate(s.Events)
	s.Aggregates = Aggregates{
		TotalEvents:       r.Breakdown.Total(),
		SeverityBreakdown: r.Breakdown,
		RiskScore:         r.Score,
		RiskLevel:         r.Level,
		FlaggedForReview:  r.Flagged || s.ManuallyFlagged,
		UnresolvedCount:   r.Unresolved,
	}
}

// Duration returns the elapsed session time, using now for active sessions.
func (s *Session) Duration() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// Clone returns a deep copy so callers get a read-only snapshot.
func (s *Session) Clone() *Session {
	c := *s
	c.Events = make([]event.Event, len(s.Events))
	copy(c.Events, s.Events)
	for i := range c.Events {
		if s.Events[i].Resolution != nil {
			res := *s.Events[i].Resolution
			c.Events[i].Resolution = &res
		}
	}
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	if s.DeviceInfo != nil {
		c.DeviceInfo = make(map[string]string, len(s.DeviceInfo))
		for k, v := range s.DeviceInfo {
			c.DeviceInfo[k] = v
		}
	}
	if s.Notes != nil {
		c.Notes = make([]Note, len(s.Notes))
		copy(c.Notes, s.Notes)
	}
	return &c
}

// Summary is the wire shape of a session without its full event log.
type Summary struct {
	ID                uuid.UUID         `json:"id"`
	SubjectID         string            `json:"subject_id"`
	ReviewerID        string            `json:"reviewer_id,omitempty"`
	Status            Status            `json:"status"`
	StartTime         time.Time         `json:"start_time"`
	EndTime           *time.Time        `json:"end_time,omitempty"`
	TotalEvents       int               `json:"total_events"`
	SeverityBreakdown scoring.Breakdown `json:"severity_breakdown"`
	RiskScore         int               `json:"risk_score"`
	RiskLevel         scoring.RiskLevel `json:"risk_level"`
	FlaggedForReview  bool              `json:"flagged_for_review"`
}

// Summarize projects the session onto its wire summary.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:                s.ID,
		SubjectID:         s.SubjectID,
		ReviewerID:        s.ReviewerID,
		Status:            s.Status,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		TotalEvents:       s.Aggregates.TotalEvents,
		SeverityBreakdown: s.Aggregates.SeverityBreakdown,
		RiskScore:         s.Aggregates.RiskScore,
		RiskLevel:         s.Aggregates.RiskLevel,
		FlaggedForReview:  s.Aggregates.FlaggedForReview,
	}
}
