// Package report derives the human-readable integrity summary from session
// state. Generation is a pure function: the same terminal session always
// yields the same report.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"proctor-engine/internal/event"
	"proctor-engine/internal/scoring"
	"proctor-engine/internal/session"
)

// TypeCount is the per-type violation tally in a report.
type TypeCount struct {
	Type       event.Type `json:"type"`
	Count      int        `json:"count"`
	Unresolved int        `json:"unresolved"`
}

// Report is the reviewer-facing summary of one monitored exam attempt.
type Report struct {
	SessionID  uuid.UUID      `json:"session_id"`
	SubjectID  string         `json:"subject_id"`
	ReviewerID string         `json:"reviewer_id,omitempty"`
	Status     session.Status `json:"status"`

	// Preliminary is true when the session is still active; the report is
	// a live preview, not a final record.
	Preliminary bool `json:"preliminary"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Duration is empty ("ongoing") only for preliminary reports.
	Duration string `json:"duration"`

	// FirstViolation and LastViolation come from the timestamp-sorted view
	// of the log, not arrival order.
	FirstViolation *time.Time `json:"first_violation,omitempty"`
	LastViolation  *time.Time `json:"last_violation,omitempty"`

	TotalViolations      int               `json:"total_violations"`
	UnresolvedViolations int               `json:"unresolved_violations"`
	SeverityBreakdown    scoring.Breakdown `json:"severity_breakdown"`
	RiskScore            int               `json:"risk_score"`
	RiskLevel            scoring.RiskLevel `json:"risk_level"`
	FlaggedForReview     bool              `json:"flagged_for_review"`

	ViolationsByType []TypeCount `json:"violations_by_type"`
	Narrative        string      `json:"narrative"`
}

// Generate builds the report from a session snapshot. Terminal sessions
// produce the final record; active sessions produce a preliminary preview.
func Generate(s *session.Session) *Report {
	r := &Report{
		SessionID:            s.ID,
		SubjectID:            s.SubjectID,
		ReviewerID:           s.ReviewerID,
		Status:               s.Status,
		Preliminary:          !s.Status.IsTerminal(),
		StartTime:            s.StartTime,
		EndTime:              s.EndTime,
		TotalViolations:      s.Aggregates.TotalEvents,
		UnresolvedViolations: s.Aggregates.UnresolvedCount,
		SeverityBreakdown:    s.Aggregates.SeverityBreakdown,
		RiskScore:            s.Aggregates.RiskScore,
		RiskLevel:            s.Aggregates.RiskLevel,
		FlaggedForReview:     s.Aggregates.FlaggedForReview,
	}

	if s.EndTime != nil {
		r.Duration = s.EndTime.Sub(s.StartTime).Round(time.Second).String()
	} else {
		r.Duration = "ongoing"
	}

	// Detector events can arrive out of order across network hops; the
	// report works on the timestamp-sorted view while the stored log keeps
	// arrival order.
	sorted := scoring.SortByTimestamp(s.Events)
	if len(sorted) > 0 {
		first := sorted[0].Timestamp
		last := sorted[len(sorted)-1].Timestamp
		r.FirstViolation = &first
		r.LastViolation = &last
	}

	r.ViolationsByType = countByType(sorted)
	r.Narrative = narrative(r)

	return r
}

// countByType tallies violations per distinct type, sorted by descending
// count with type name as the tie-break so output is deterministic.
func countByType(events []event.Event) []TypeCount {
	totals := make(map[event.Type]*TypeCount)
	for i := range events {
		tc, ok := totals[events[i].Type]
		if !ok {
			tc = &TypeCount{Type: events[i].Type}
			totals[events[i].Type] = tc
		}
		tc.Count++
		if !events[i].Resolved() {
			tc.Unresolved++
		}
	}

	out := make([]TypeCount, 0, len(totals))
	for _, tc := range totals {
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// narrative assembles the free-text summary for human reviewers.
func narrative(r *Report) string {
	var b strings.Builder

	if r.Preliminary {
		b.WriteString("Preliminary report for ongoing session. ")
	}

	if r.TotalViolations == 0 {
		b.WriteString("No violations detected during this session.")
		return b.String()
	}

	fmt.Fprintf(&b, "%d violation(s) detected, overall risk level %s (score %d/100). ",
		r.TotalViolations, r.RiskLevel, r.RiskScore)

	for _, tc := range r.ViolationsByType {
		fmt.Fprintf(&b, "%d violation(s) of type %s detected", tc.Count, tc.Type)
		if tc.Unresolved < tc.Count {
			fmt.Fprintf(&b, " (%d resolved by review)", tc.Count-tc.Unresolved)
		}
		b.WriteString(". ")
	}

	if r.FlaggedForReview {
		b.WriteString("Session is flagged for human review.")
	} else {
		b.WriteString("Session does not require human review.")
	}

	return b.String()
}
