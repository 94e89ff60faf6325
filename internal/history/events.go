package history

import (
	"context"
	"time"
)

// Event categories. One category per wire message family.
const (
	CategoryLockState = "lock_state"
	CategoryDoorState = "door_state"
	CategoryCommand   = "command"
	CategoryButton    = "button"
)

// Event source values identify which process recorded the row.
const (
	SourceCoordinator = "coordinator"
	SourceBridge      = "bridge"
	SourceAPI         = "api"
)

// Event represents a single door event log record.
//
// Value stores the JSON snapshot of the wire message that caused the
// event, so the log can reconstruct exactly what was observed even when
// the schema of the typed columns lags behind.
type Event struct {
	// ID is the unique identifier for the event (UUID).
	ID string `json:"id"`

	// DeviceID is the device the event belongs to.
	DeviceID string `json:"device_id"`

	// Category classifies the event (lock_state, door_state, command, button).
	Category string `json:"category"`

	// Value is the JSON snapshot of the message observed.
	Value string `json:"value"`

	// Source identifies the recording process (coordinator, bridge, api).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the event (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves door events.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// RecordEvent persists one event. A missing ID is generated and a
	// zero CreatedAt is stamped with the current time.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - event: Event to persist
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordEvent(ctx context.Context, event Event) error

	// ListEvents returns recent events, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - category: Category filter, empty for all categories
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []Event: Ordered newest-first events (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	ListEvents(ctx context.Context, category string, limit int) ([]Event, error)

	// Prune deletes events older than the given duration.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - olderThan: Retention window (events older than now-olderThan are deleted)
	//
	// Returns:
	//   - int64: Number of rows deleted
	//   - error: nil on success, otherwise the underlying database error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
