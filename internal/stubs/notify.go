package stubs

import "time"

// Notification kinds consumed by the UI layer: toasts, conflict notices and
// re-render triggers all arrive through the same feed.
const (
	NoteStoreChanged        = "store.changed"
	NoteConflictDeleted     = "conflict.deleted"
	NoteConflictOverwritten = "conflict.overwritten"
	NoteSyncFailed          = "sync.failed"
	NoteSyncStale           = "sync.stale"
)

type Notification struct {
	Kind      string    `json:"kind"`
	MappingID string    `json:"mappingId,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives store and sync events. Implementations must not block;
// delivery is best effort.
type Notifier interface {
	Notify(n Notification)
}

// Logger matches the stdlib log.Printf signature so callers can pass
// *log.Logger directly.
type Logger interface {
	Printf(format string, args ...any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// NopNotifier discards every notification.
var NopNotifier Notifier = nopNotifier{}
