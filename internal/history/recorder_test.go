package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockRepository records events in memory and can block or fail on demand.
type mockRepository struct {
	mu      sync.Mutex
	events  []Event
	err     error
	entered chan struct{}
	release chan struct{}
}

func (m *mockRepository) RecordEvent(ctx context.Context, event Event) error {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockRepository) ListEvents(ctx context.Context, category string, limit int) ([]Event, error) {
	return nil, nil
}

func (m *mockRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockRepository) recorded() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// mockRecorderLogger captures log calls for assertions.
type mockRecorderLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (m *mockRecorderLogger) Error(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockRecorderLogger) Warn(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}

func (m *mockRecorderLogger) warnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.warns)
}

func (m *mockRecorderLogger) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

// TestRecorderFlushOnClose verifies queued events survive shutdown.
func TestRecorderFlushOnClose(t *testing.T) {
	repo := &mockRepository{}
	recorder := NewRecorder(repo, 16, nil)

	for i := 0; i < 5; i++ {
		recorder.Record(Event{DeviceID: "frontdoor", Category: CategoryDoorState})
	}

	if err := recorder.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := len(repo.recorded()); got != 5 {
		t.Errorf("recorded events = %d, want 5", got)
	}
	if recorder.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", recorder.Dropped())
	}
}

// TestRecorderDropsWhenFull verifies a saturated queue drops instead of blocking.
func TestRecorderDropsWhenFull(t *testing.T) {
	repo := &mockRepository{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	logger := &mockRecorderLogger{}
	recorder := NewRecorder(repo, 1, logger)

	// First event reaches the repository and parks there.
	recorder.Record(Event{DeviceID: "frontdoor", Category: CategoryButton, Value: "1"})
	<-repo.entered

	// Second event sits in the buffer, third has nowhere to go.
	recorder.Record(Event{DeviceID: "frontdoor", Category: CategoryButton, Value: "2"})
	recorder.Record(Event{DeviceID: "frontdoor", Category: CategoryButton, Value: "3"})

	if recorder.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", recorder.Dropped())
	}
	if logger.warnCount() != 1 {
		t.Errorf("warn count = %d, want 1", logger.warnCount())
	}

	close(repo.release)
	go func() {
		for range repo.entered {
		}
	}()

	if err := recorder.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(repo.entered)

	events := repo.recorded()
	if len(events) != 2 {
		t.Fatalf("recorded events = %d, want 2", len(events))
	}
	if events[0].Value != "1" || events[1].Value != "2" {
		t.Errorf("recorded values = %q, %q, want 1, 2", events[0].Value, events[1].Value)
	}
}

// TestRecorderCloseIdempotent verifies repeated Close calls are safe.
func TestRecorderCloseIdempotent(t *testing.T) {
	recorder := NewRecorder(&mockRepository{}, 4, nil)

	if err := recorder.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

// TestRecorderRecordAfterClose verifies Record is a no-op once stopped.
func TestRecorderRecordAfterClose(t *testing.T) {
	repo := &mockRepository{}
	recorder := NewRecorder(repo, 4, nil)

	if err := recorder.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	recorder.Record(Event{DeviceID: "frontdoor", Category: CategoryDoorState})

	if got := len(repo.recorded()); got != 0 {
		t.Errorf("recorded events = %d, want 0", got)
	}
	if recorder.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", recorder.Dropped())
	}
}

// TestRecorderLogsWriteFailure verifies repository errors are reported, not returned.
func TestRecorderLogsWriteFailure(t *testing.T) {
	repo := &mockRepository{err: errors.New("disk full")}
	logger := &mockRecorderLogger{}
	recorder := NewRecorder(repo, 4, logger)

	recorder.Record(Event{DeviceID: "frontdoor", Category: CategoryLockState})

	if err := recorder.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if logger.errorCount() != 1 {
		t.Errorf("error count = %d, want 1", logger.errorCount())
	}
}
