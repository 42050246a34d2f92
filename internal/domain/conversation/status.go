package conversation

// Status is the delivery status of a message.
type Status string

const (
	StatusPendingUpload Status = "pending-upload"
	StatusSending       Status = "sending"
	StatusSent          Status = "sent"
	StatusDelivered     Status = "delivered"
	StatusFailed        Status = "failed"
)

var statusRank = map[Status]int{
	StatusPendingUpload: 0,
	StatusSending:       1,
	StatusSent:          2,
	StatusDelivered:     3,
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanTransition reports whether moving from s to next respects the
// pending-upload → sending → sent → delivered order. Failed is reachable only
// from pending-upload and sending.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return s == StatusPendingUpload || s == StatusSending
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	if s == StatusPendingUpload {
		return next == StatusSending
	}
	return to > from
}

// NormalizeStatus maps free-form status strings from the wire onto Status.
func NormalizeStatus(raw string, fallback Status) Status {
	switch Status(raw) {
	case StatusPendingUpload, StatusSending, StatusSent, StatusDelivered, StatusFailed:
		return Status(raw)
	}
	switch raw {
	case "read", "seen":
		return StatusDelivered
	case "pending":
		return StatusSending
	}
	return fallback
}
