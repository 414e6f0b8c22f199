// Package monitor implements the session manager: it owns session lifecycle,
// serializes mutations per session, re-runs the scoring engine on every
// append, and applies the escalation policy.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"proctor-engine/internal/event"
	"proctor-engine/internal/queue"
	"proctor-engine/internal/scoring"
	"proctor-engine/internal/session"
)

// ErrShuttingDown is returned when a mutation arrives during shutdown.
var ErrShuttingDown = errors.New("monitor: manager is shutting down")

// Alert is published to the review collaborator when a session escalates.
type Alert struct {
	SessionID uuid.UUID         `json:"session_id"`
	SubjectID string            `json:"subject_id"`
	Reason    string            `json:"reason"`
	RiskScore int               `json:"risk_score"`
	RiskLevel scoring.RiskLevel `json:"risk_level"`
	EventType event.Type        `json:"event_type,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// AlertPublisher delivers escalation alerts downstream.
type AlertPublisher interface {
	Publish(ctx context.Context, alert Alert) error
}

// Archiver receives accepted events for long-term audit storage.
// *queue.RingBuffer satisfies it.
type Archiver interface {
	Push(item *queue.Item) error
}

// SessionArchiver receives terminal session summaries.
type SessionArchiver interface {
	ArchiveSession(ctx context.Context, s *session.Session) error
}

// Manager orchestrates all session mutations. Writes to one session are
// serialized through a per-session lock; different sessions never contend.
type Manager struct {
	store  session.Store
	policy scoring.Policy
	logger *slog.Logger

	alerts   AlertPublisher
	archive  Archiver
	terminal SessionArchiver

	locks  map[uuid.UUID]*sessionLock
	lockMu sync.Mutex

	wg     sync.WaitGroup
	closed atomic.Bool

	// Metrics
	sessionsStarted uint64
	eventsAccepted  uint64
	eventsRejected  uint64
}

// NewManager creates a manager over the given store and scoring policy.
func NewManager(store session.Store, policy scoring.Policy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		policy: policy,
		logger: logger,
		locks:  make(map[uuid.UUID]*sessionLock),
	}
}

// WithAlertPublisher sets the escalation alert sink.
func (m *Manager) WithAlertPublisher(p AlertPublisher) *Manager {
	m.alerts = p
	return m
}

// WithArchiver sets the event archive queue.
func (m *Manager) WithArchiver(a Archiver) *Manager {
	m.archive = a
	return m
}

// WithSessionArchiver sets the terminal session archive sink.
func (m *Manager) WithSessionArchiver(a SessionArchiver) *Manager {
	m.terminal = a
	return m
}

// sessionLock is a reference-counted entry in the per-session lock table.
// refs counts callers that hold or wait on the mutex; the entry is dropped
// from the table once refs reaches zero, so the table stays bounded by
// in-flight mutations rather than by every session id ever seen.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lockFor returns the lock serializing writes to one session, holding a
// reference that release gives back.
func (m *Manager) lockFor(id uuid.UUID) *sessionLock {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	return l
}

// release unlocks the session lock and prunes the table entry once the last
// reference is returned.
func (m *Manager) release(id uuid.UUID, l *sessionLock) {
	l.mu.Unlock()

	m.lockMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
	m.lockMu.Unlock()
}

// StartInput carries everything recorded at session start.
type StartInput struct {
	SubjectID        string
	ConsentGiven     bool
	ComplianceChecks bool
	DeviceInfo       map[string]string
}

// StartSession creates an active session with an empty event log.
// Fails with session.ErrInvalidConsent unless both compliance flags are set.
func (m *Manager) StartSession(ctx context.Context, in StartInput) (*session.Session, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.wg.Done()

	if !in.ConsentGiven || !in.ComplianceChecks {
		return nil, session.NewError("StartSession", uuid.Nil, session.ErrInvalidConsent)
	}

	s := session.New(in.SubjectID, in.ConsentGiven, in.ComplianceChecks, in.DeviceInfo)
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}

	atomic.AddUint64(&m.sessionsStarted, 1)
	m.logger.Info("session started",
		"session_id", s.ID,
		"subject_id", s.SubjectID,
	)
	return s.Clone(), nil
}

// AddEvent appends a detector event, recomputes the aggregates and persists
// the session. This is the hot path: the per-session lock is held only for
// load+append+recompute+persist; archival and alerting happen off the lock.
func (m *Manager) AddEvent(ctx context.Context, id uuid.UUID, ev event.Event) (*session.Session, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.wg.Done()

	l := m.lockFor(id)
	l.mu.Lock()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		m.release(id, l)
		atomic.AddUint64(&m.eventsRejected, 1)
		return nil, err
	}

	if s.Status != session.StatusActive {
		m.release(id, l)
		atomic.AddUint64(&m.eventsRejected, 1)
		return nil, session.NewError("AddEvent", id, session.ErrNotActive)
	}

	wasFlagged := s.Aggregates.FlaggedForReview
	s.Events = append(s.Events, ev)
	s.Recompute(m.policy)

	if err := m.store.Save(ctx, s); err != nil {
		m.release(id, l)
		atomic.AddUint64(&m.eventsRejected, 1)
		return nil, err
	}
	snapshot := s.Clone()
	m.release(id, l)

	atomic.AddUint64(&m.eventsAccepted, 1)

	m.archiveEvent(snapshot, len(snapshot.Events)-1, ev)
	m.escalate(snapshot, ev, wasFlagged)

	return snapshot, nil
}

// EndSession moves an active session to a terminal status and triggers the
// terminal archive. The transition is monotone: once terminal, always
// terminal, and a second call fails with session.ErrAlreadyEnded.
func (m *Manager) EndSession(ctx context.Context, id uuid.UUID, reason session.Status) (*session.Session, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.wg.Done()

	if !reason.IsValid() || !reason.IsTerminal() {
		return nil, session.NewError("EndSession", id, ErrInvalidEndReason)
	}

	l := m.lockFor(id)
	l.mu.Lock()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		m.release(id, l)
		return nil, err
	}

	if s.Status.IsTerminal() {
		m.release(id, l)
		return nil, session.NewError("EndSession", id, session.ErrAlreadyEnded)
	}

	now := time.Now().UTC()
	s.EndTime = &now
	s.Status = reason
	s.Recompute(m.policy)

	if err := m.store.Save(ctx, s); err != nil {
		m.release(id, l)
		return nil, err
	}
	snapshot := s.Clone()
	m.release(id, l)

	m.logger.Info("session ended",
		"session_id", id,
		"status", reason,
		"risk_score", snapshot.Aggregates.RiskScore,
		"risk_level", snapshot.Aggregates.RiskLevel,
		"flagged", snapshot.Aggregates.FlaggedForReview,
	)

	if m.terminal != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			archCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.terminal.ArchiveSession(archCtx, snapshot); err != nil {
				m.logger.Error("terminal session archive failed",
					"session_id", id, "error", err)
			}
		}()
	}

	return snapshot, nil
}

// GetSession returns a read-only snapshot, including mid-session previews.
func (m *Manager) GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return m.store.Load(ctx, id)
}

// ListSessions returns snapshots matching the filter.
func (m *Manager) ListSessions(ctx context.Context, filter session.Filter) ([]*session.Session, error) {
	return m.store.List(ctx, filter)
}

// archiveEvent queues the event for the ClickHouse audit archive.
func (m *Manager) archiveEvent(s *session.Session, index int, ev event.Event) {
	if m.archive == nil {
		return
	}
	item := &queue.Item{
		SessionID: s.ID,
		SubjectID: s.SubjectID,
		Index:     index,
		Event:     ev,
	}
	if err := m.archive.Push(item); err != nil {
		m.logger.Warn("event archive queue rejected item",
			"session_id", s.ID, "error", err)
	}
}

// escalate publishes alerts when a session becomes flagged or a critical
// event lands. Runs off the hot path with its own deadline, decoupled from
// the request context; failures are logged, never returned, because a broken
// alert channel must not lose the event itself.
func (m *Manager) escalate(s *session.Session, ev event.Event, wasFlagged bool) {
	if m.alerts == nil {
		return
	}

	var reason string
	switch {
	case ev.Severity == event.SeverityCritical:
		reason = "critical_event"
	case !wasFlagged && s.Aggregates.FlaggedForReview:
		reason = "flagged_for_review"
	default:
		return
	}

	alert := Alert{
		SessionID: s.ID,
		SubjectID: s.SubjectID,
		Reason:    reason,
		RiskScore: s.Aggregates.RiskScore,
		RiskLevel: s.Aggregates.RiskLevel,
		EventType: ev.Type,
		Timestamp: time.Now().UTC(),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.alerts.Publish(pubCtx, alert); err != nil {
			m.logger.Error("alert publish failed",
				"session_id", s.ID, "reason", reason, "error", err)
		}
	}()
}

// begin gates mutations during shutdown and tracks them so Shutdown can
// drain in-flight calls without losing an event from the audit trail.
func (m *Manager) begin() error {
	if m.closed.Load() {
		return ErrShuttingDown
	}
	m.wg.Add(1)
	// Re-check after registering to close the race with Shutdown.
	if m.closed.Load() {
		m.wg.Done()
		return ErrShuttingDown
	}
	return nil
}

// Shutdown stops accepting mutations and waits for in-flight calls to
// complete, or for the context to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns manager counters for the metrics endpoint.
func (m *Manager) Stats() map[string]uint64 {
	return map[string]uint64{
		"sessions_started": atomic.LoadUint64(&m.sessionsStarted),
		"events_accepted":  atomic.LoadUint64(&m.eventsAccepted),
		"events_rejected":  atomic.LoadUint64(&m.eventsRejected),
	}
}

// ErrInvalidEndReason is returned for end reasons outside the terminal set.
var ErrInvalidEndReason = errors.New("monitor: end reason must be completed, terminated or failed")
