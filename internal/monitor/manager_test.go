package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"proctor-engine/internal/event"
	"proctor-engine/internal/queue"
	"proctor-engine/internal/scoring"
	"proctor-engine/internal/session"
)

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(session.NewMemoryStore(), scoring.DefaultPolicy(), logger)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func startSession(t *testing.T, m *Manager) *session.Session {
	t.Helper()
	s, err := m.StartSession(context.Background(), StartInput{
		SubjectID:        "student-1",
		ConsentGiven:     true,
		ComplianceChecks: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mkEvent(t *testing.T, typ event.Type, severity event.Severity) event.Event {
	t.Helper()
	ev, err := event.NewWithSeverity(typ, 0.9, "detected "+string(typ), severity)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestStartSessionRequiresConsent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	tests := []struct {
		name       string
		consent    bool
		compliance bool
		wantErr    bool
	}{
		{"both set", true, true, false},
		{"no consent", false, true, true},
		{"no compliance", true, false, true},
		{"neither", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.StartSession(ctx, StartInput{
				SubjectID:        "student-1",
				ConsentGiven:     tt.consent,
				ComplianceChecks: tt.compliance,
			})
			if tt.wantErr {
				if !errors.Is(err, session.ErrInvalidConsent) {
					t.Errorf("err = %v, want ErrInvalidConsent", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestAddEventRecomputesAggregates(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	got, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeTabSwitch, event.SeverityMedium))
	if err != nil {
		t.Fatal(err)
	}
	if got.Aggregates.TotalEvents != 1 {
		t.Errorf("total events = %d, want 1", got.Aggregates.TotalEvents)
	}
	if got.Aggregates.RiskScore != 15 {
		t.Errorf("risk score = %d, want 15", got.Aggregates.RiskScore)
	}
	if got.Aggregates.RiskLevel != scoring.RiskLow {
		t.Errorf("risk level = %q, want low", got.Aggregates.RiskLevel)
	}

	got, err = m.AddEvent(ctx, s.ID, mkEvent(t, event.TypePhoneDetected, event.SeverityCritical))
	if err != nil {
		t.Fatal(err)
	}
	if got.Aggregates.RiskScore != 65 {
		t.Errorf("risk score = %d, want 65", got.Aggregates.RiskScore)
	}
	if got.Aggregates.RiskLevel != scoring.RiskCritical {
		t.Errorf("risk level = %q, want critical", got.Aggregates.RiskLevel)
	}
	if !got.Aggregates.FlaggedForReview {
		t.Error("critical event should flag the session")
	}
}

func TestAddEventUnknownSession(t *testing.T) {
	m := newTestManager()

	_, err := m.AddEvent(context.Background(), uuid.New(), mkEvent(t, event.TypeTabSwitch, event.SeverityLow))
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddEventAfterEnd(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	if _, err := m.EndSession(ctx, s.ID, session.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	before, err := m.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeTabSwitch, event.SeverityLow))
	if !errors.Is(err, session.ErrNotActive) {
		t.Errorf("err = %v, want ErrNotActive", err)
	}

	// The rejected event must leave the session untouched.
	after, err := m.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after.Events) != len(before.Events) {
		t.Errorf("event log grew from %d to %d", len(before.Events), len(after.Events))
	}
	if after.Aggregates != before.Aggregates {
		t.Errorf("aggregates changed: %+v -> %+v", before.Aggregates, after.Aggregates)
	}
	if after.Status != before.Status {
		t.Errorf("status changed: %q -> %q", before.Status, after.Status)
	}
}

func TestEndSession(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	got, err := m.EndSession(ctx, s.ID, session.StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != session.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.EndTime == nil {
		t.Error("end time not set")
	}

	// A second end is rejected regardless of the terminal reason and must
	// not disturb the recorded outcome.
	_, err = m.EndSession(ctx, s.ID, session.StatusTerminated)
	if !errors.Is(err, session.ErrAlreadyEnded) {
		t.Errorf("err = %v, want ErrAlreadyEnded", err)
	}

	after, err := m.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != session.StatusCompleted {
		t.Errorf("status = %q, want completed after failed re-end", after.Status)
	}
	if after.EndTime == nil || !after.EndTime.Equal(*got.EndTime) {
		t.Errorf("end time changed: %v -> %v", got.EndTime, after.EndTime)
	}
}

func TestEndSessionInvalidReason(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	for _, reason := range []session.Status{session.StatusActive, session.Status("done"), session.Status("")} {
		_, err := m.EndSession(ctx, s.ID, reason)
		if !errors.Is(err, ErrInvalidEndReason) {
			t.Errorf("reason %q: err = %v, want ErrInvalidEndReason", reason, err)
		}
	}
}

func TestResolveViolation(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	if _, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeTabSwitch, event.SeverityMedium)); err != nil {
		t.Fatal(err)
	}

	got, err := m.ResolveViolation(ctx, s.ID, 0, "reviewer-1", "false positive")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Events[0].Resolved() {
		t.Error("event not marked resolved")
	}
	if got.Aggregates.UnresolvedCount != 0 {
		t.Errorf("unresolved = %d, want 0", got.Aggregates.UnresolvedCount)
	}
	if got.Aggregates.RiskScore != 15 {
		t.Errorf("risk score changed on resolve: %d", got.Aggregates.RiskScore)
	}

	_, err = m.ResolveViolation(ctx, s.ID, 0, "reviewer-2", "again")
	if !errors.Is(err, session.ErrAlreadyResolved) {
		t.Errorf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolveViolationBadIndex(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	if _, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeTabSwitch, event.SeverityLow)); err != nil {
		t.Fatal(err)
	}

	for _, index := range []int{-1, 1, 99} {
		_, err := m.ResolveViolation(ctx, s.ID, index, "reviewer-1", "")
		if !errors.Is(err, session.ErrViolationNotFound) {
			t.Errorf("index %d: err = %v, want ErrViolationNotFound", index, err)
		}
	}
}

func TestResolveOnEndedSession(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	if _, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeTabSwitch, event.SeverityMedium)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.EndSession(ctx, s.ID, session.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	// Reviewers resolve after the exam ends.
	got, err := m.ResolveViolation(ctx, s.ID, 0, "reviewer-1", "excused")
	if err != nil {
		t.Fatal(err)
	}
	if got.Aggregates.UnresolvedCount != 0 {
		t.Errorf("unresolved = %d, want 0", got.Aggregates.UnresolvedCount)
	}
}

func TestFlagForReviewSticky(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	got, err := m.FlagForReview(ctx, s.ID, "proctor-1", "suspicious behavior")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Aggregates.FlaggedForReview || !got.ManuallyFlagged {
		t.Error("manual flag not set")
	}
	if len(got.Notes) != 1 || got.Notes[0].Author != "proctor-1" {
		t.Errorf("note not recorded: %+v", got.Notes)
	}

	// The flag survives further recomputes triggered by benign events.
	got, err = m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeLookingAway, event.SeverityLow))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Aggregates.FlaggedForReview {
		t.Error("manual flag lost after event append")
	}
}

func TestAssignReviewer(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	got, err := m.AssignReviewer(ctx, s.ID, "reviewer-9")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReviewerID != "reviewer-9" {
		t.Errorf("reviewer = %q", got.ReviewerID)
	}

	if _, err := m.EndSession(ctx, s.ID, session.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	_, err = m.AssignReviewer(ctx, s.ID, "reviewer-10")
	if !errors.Is(err, session.ErrNotActive) {
		t.Errorf("err = %v, want ErrNotActive", err)
	}
}

func TestConcurrentAddEvent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeLookingAway, event.SeverityLow)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := m.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Events) != n {
		t.Errorf("events = %d, want %d; appends were lost", len(got.Events), n)
	}
	if got.Aggregates.TotalEvents != n {
		t.Errorf("aggregate count = %d, want %d", got.Aggregates.TotalEvents, n)
	}

	if n := lockCount(m); n != 0 {
		t.Errorf("lock table has %d entries after appends settled, want 0", n)
	}
}

func lockCount(m *Manager) int {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	return len(m.locks)
}

func TestLockTablePruned(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	if _, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeTabSwitch, event.SeverityMedium)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.EndSession(ctx, s.ID, session.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ResolveViolation(ctx, s.ID, 0, "reviewer-1", "checked"); err != nil {
		t.Fatal(err)
	}

	// Every mutation path returns its lock reference, so a long-lived
	// manager does not grow an entry per ever-seen session.
	if n := lockCount(m); n != 0 {
		t.Errorf("lock table has %d entries after mutations settled, want 0", n)
	}
}

type captureAlerts struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *captureAlerts) Publish(ctx context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureAlerts) get() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func TestEscalationAlerts(t *testing.T) {
	sink := &captureAlerts{}
	m := newTestManager().WithAlertPublisher(sink)
	ctx := context.Background()
	s := startSession(t, m)

	// A low event below every threshold publishes nothing.
	if _, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeLookingAway, event.SeverityLow)); err != nil {
		t.Fatal(err)
	}

	// A critical event publishes a critical_event alert.
	if _, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypePhoneDetected, event.SeverityCritical)); err != nil {
		t.Fatal(err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Fatal(err)
	}

	alerts := sink.get()
	if len(alerts) == 0 {
		t.Fatal("no alerts published")
	}
	if alerts[0].Reason != "critical_event" {
		t.Errorf("reason = %q, want critical_event", alerts[0].Reason)
	}
	if alerts[0].SessionID != s.ID {
		t.Error("alert carries wrong session id")
	}
}

func TestArchiveQueueReceivesEvents(t *testing.T) {
	buf := queue.NewRingBuffer(16)
	m := newTestManager().WithArchiver(buf)
	ctx := context.Background()
	s := startSession(t, m)

	if _, err := m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeTabSwitch, event.SeverityMedium)); err != nil {
		t.Fatal(err)
	}

	item, err := buf.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if item.SessionID != s.ID || item.Index != 0 {
		t.Errorf("archived item mismatch: %+v", item)
	}
}

func TestShutdownRejectsMutations(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s := startSession(t, m)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Fatal(err)
	}

	_, err := m.StartSession(ctx, StartInput{SubjectID: "x", ConsentGiven: true, ComplianceChecks: true})
	if !errors.Is(err, ErrShuttingDown) {
		t.Errorf("StartSession err = %v, want ErrShuttingDown", err)
	}
	_, err = m.AddEvent(ctx, s.ID, mkEvent(t, event.TypeTabSwitch, event.SeverityLow))
	if !errors.Is(err, ErrShuttingDown) {
		t.Errorf("AddEvent err = %v, want ErrShuttingDown", err)
	}

	// Reads still work.
	if _, err := m.GetSession(ctx, s.ID); err != nil {
		t.Errorf("GetSession after shutdown: %v", err)
	}
}
