// Package scoring turns a session's event log into a risk score and a
// discrete risk level. Everything here is a pure function of the log plus
// the policy constants, so aggregates can always be recomputed from history.
package scoring

import (
	"sort"

	"proctor-engine/internal/event"
)

// RiskLevel classifies overall session risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Breakdown counts events per severity.
type Breakdown struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

// Total returns the sum across all severities.
func (b Breakdown) Total() int {
	return b.Low + b.Medium + b.High + b.Critical
}

// Policy holds the scoring and escalation constants. The defaults are the
// contract; deployments may tune them but every threshold must stay explicit.
type Policy struct {
	// Points added per event, by severity.
	PointsLow      int `yaml:"points_low"`
	PointsMedium   int `yaml:"points_medium"`
	PointsHigh     int `yaml:"points_high"`
	PointsCritical int `yaml:"points_critical"`

	// MaxScore clamps the additive total.
	MaxScore int `yaml:"max_score"`

	// Score thresholds for risk-level classification.
	CriticalScore int `yaml:"critical_score"`
	HighScore     int `yaml:"high_score"`
	MediumScore   int `yaml:"medium_score"`

	// Count thresholds for risk-level classification.
	HighCountForHigh     int `yaml:"high_count_for_high"`
	HighCountForMedium   int `yaml:"high_count_for_medium"`
	MediumCountForMedium int `yaml:"medium_count_for_medium"`

	// FlagEventCount is the total-event threshold for auto-flagging.
	FlagEventCount int `yaml:"flag_event_count"`
}

// DefaultPolicy returns the contract constants.
func DefaultPolicy() Policy {
	return Policy{
		PointsLow:            5,
		PointsMedium:         15,
		PointsHigh:           30,
		PointsCritical:       50,
		MaxScore:             100,
		CriticalScore:        80,
		HighScore:            60,
		MediumScore:          30,
		HighCountForHigh:     3,
		HighCountForMedium:   1,
		MediumCountForMedium: 5,
		FlagEventCount:       5,
	}
}

// Validate checks that the policy constants are usable.
func (p Policy) Validate() error {
	if p.MaxScore <= 0 {
		return errMaxScore
	}
	if p.PointsLow < 0 || p.PointsMedium < 0 || p.PointsHigh < 0 || p.PointsCritical < 0 {
		return errNegativePoints
	}
	if p.FlagEventCount <= 0 {
		return errFlagCount
	}
	return nil
}

// Result is the full derived view of one event log.
type Result struct {
	Score      int
	Level      RiskLevel
	Breakdown  Breakdown
	Flagged    bool
	Unresolved int
}

// Evaluate computes score, level, severity breakdown, the auto-flag verdict
// and the unresolved count for an event log in one pass.
func (p Policy) Evaluate(events []event.Event) Result {
	b := CountBySeverity(events)

	score := b.Low*p.PointsLow + b.Medium*p.PointsMedium +
		b.High*p.PointsHigh + b.Critical*p.PointsCritical
	if score > p.MaxScore {
		score = p.MaxScore
	}

	unresolved := 0
	for i := range events {
		if !events[i].Resolved() {
			unresolved++
		}
	}

	return Result{
		Score:      score,
		Level:      p.classify(score, b),
		Breakdown:  b,
		Flagged:    b.Critical > 0 || b.Total() >= p.FlagEventCount,
		Unresolved: unresolved,
	}
}

// Score computes only the numeric score and risk level.
func (p Policy) Score(events []event.Event) (int, RiskLevel) {
	r := p.Evaluate(events)
	return r.Score, r.Level
}

// classify applies the priority-ordered classification rules; first match wins.
func (p Policy) classify(score int, b Breakdown) RiskLevel {
	switch {
	case b.Critical > 0 || score >= p.CriticalScore:
		return RiskCritical
	case b.High >= p.HighCountForHigh || score >= p.HighScore:
		return RiskHigh
	case b.High >= p.HighCountForMedium || b.Medium >= p.MediumCountForMedium || score >= p.MediumScore:
		return RiskMedium
	default:
		return RiskLow
	}
}

// CountBySeverity tallies an event log per severity.
func CountBySeverity(events []event.Event) Breakdown {
	var b Breakdown
	for i := range events {
		switch events[i].Severity {
		case event.SeverityLow:
			b.Low++
		case event.SeverityMedium:
			b.Medium++
		case event.SeverityHigh:
			b.High++
		case event.SeverityCritical:
			b.Critical++
		}
	}
	return b
}

// SortByTimestamp returns a copy of the log ordered by event timestamp.
// Detector events can arrive slightly out of order across network hops;
// reports work on the sorted view, the stored log keeps arrival order.
// Scoring itself is a commutative tally and needs no sort.
func SortByTimestamp(events []event.Event) []event.Event {
	sorted := make([]event.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}
