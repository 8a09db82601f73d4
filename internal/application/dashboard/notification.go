package dashboard

import (
	"time"
)

// Notification categories
const (
	CategorySessionExpired    = "session_expired"
	CategoryNotFound          = "not_found"
	CategoryServerUnavailable = "server_unavailable"
	CategoryNetwork           = "network"
	CategoryGeneric           = "generic"
	CategoryPushError         = "push_error"
	CategoryPushReconnected   = "push_reconnected"
	CategoryMalformedEvent    = "malformed_event"
	CategoryTeamLookup        = "team_lookup_failed"
)

// Severity levels
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Notification is a user-visible message produced by a session
type Notification struct {
	Category string    `json:"category"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// notifier is a bounded outbox of notifications. When full, the oldest
// notification is dropped to make room.
type notifier struct {
	ch chan Notification
}

func newNotifier(size int) *notifier {
	if size <= 0 {
		size = 32
	}
	return &notifier{ch: make(chan Notification, size)}
}

// send must only be called from the session's event loop
func (n *notifier) send(note Notification) {
	for {
		select {
		case n.ch <- note:
			return
		default:
		}
		select {
		case <-n.ch:
		default:
		}
	}
}

func (n *notifier) close() {
	close(n.ch)
}
