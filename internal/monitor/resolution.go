package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"proctor-engine/internal/event"
	"proctor-engine/internal/session"
)

// ResolveViolation records a reviewer disposition against one event.
// The event itself is never rewritten and the risk score never changes;
// resolution reflects what was later excused, not what happened.
// Works on terminal sessions: reviewers act after the exam ends.
func (m *Manager) ResolveViolation(ctx context.Context, id uuid.UUID, index int, resolvedBy, notes string) (*session.Session, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.wg.Done()

	l := m.lockFor(id)
	l.mu.Lock()
	defer m.release(id, l)

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(s.Events) {
		return nil, session.NewError("ResolveViolation", id, session.ErrViolationNotFound)
	}
	if s.Events[index].Resolved() {
		return nil, session.NewError("ResolveViolation", id, session.ErrAlreadyResolved)
	}

	s.Events[index].Resolution = &event.Resolution{
		ResolvedBy: resolvedBy,
		ResolvedAt: time.Now().UTC(),
		Notes:      notes,
	}
	s.Recompute(m.policy)

	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Info("violation resolved",
		"session_id", id,
		"event_index", index,
		"resolved_by", resolvedBy,
	)
	return s.Clone(), nil
}

// FlagForReview is the manual escalation path: it appends a reviewer note
// and forces the sticky flagged-for-review aggregate, independent of the
// automatic rule.
func (m *Manager) FlagForReview(ctx context.Context, id uuid.UUID, author, reason string) (*session.Session, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.wg.Done()

	l := m.lockFor(id)
	l.mu.Lock()
	defer m.release(id, l)

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.ManuallyFlagged = true
	s.Notes = append(s.Notes, session.Note{
		Author:    author,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	s.Recompute(m.policy)

	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Info("session flagged for review",
		"session_id", id,
		"author", author,
	)
	return s.Clone(), nil
}

// AssignReviewer sets the human monitor for an active session.
func (m *Manager) AssignReviewer(ctx context.Context, id uuid.UUID, reviewerID string) (*session.Session, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.wg.Done()

	l := m.lockFor(id)
	l.mu.Lock()
	defer m.release(id, l)

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.Status.IsTerminal() {
		return nil, session.NewError("AssignReviewer", id, session.ErrNotActive)
	}

	s.ReviewerID = reviewerID
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}
