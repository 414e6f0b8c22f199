package storage

import (
	"context"
	"time"

	"proctor-engine/internal/session"
)

// SessionArchiver writes terminal session summaries into the archive.
// It satisfies the monitor package's SessionArchiver interface.
type SessionArchiver struct {
	client *ClickHouseClient
}

// NewSessionArchiver creates a SessionArchiver over an open client.
func NewSessionArchiver(client *ClickHouseClient) *SessionArchiver {
	return &SessionArchiver{client: client}
}

// ArchiveSession records a session's final state. Re-archiving the same
// session replaces the previous row.
func (a *SessionArchiver) ArchiveSession(ctx context.Context, s *session.Session) error {
	endedAt := time.Time{}
	if s.EndTime != nil {
		endedAt = *s.EndTime
	}

	flagged := uint8(0)
	if s.Aggregates.FlaggedForReview {
		flagged = 1
	}

	err := a.client.Exec(ctx, `
		INSERT INTO session_archive (
			session_id, subject_id, reviewer_id, status,
			started_at, ended_at,
			total_events, risk_score, risk_level,
			flagged_for_review, unresolved_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID,
		s.SubjectID,
		s.ReviewerID,
		string(s.Status),
		s.StartTime,
		endedAt,
		uint32(s.Aggregates.TotalEvents),
		uint8(s.Aggregates.RiskScore),
		string(s.Aggregates.RiskLevel),
		flagged,
		uint32(s.Aggregates.UnresolvedCount),
	)
	if err != nil {
		return WrapQueryError("ArchiveSession", "session_archive", err)
	}
	return nil
}
