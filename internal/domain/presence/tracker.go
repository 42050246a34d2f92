package presence

import (
	"sort"
	"sync"
)

// Status is a user's broadcast availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Event is a presence broadcast. Snapshot events carry the full online set
// (users_online); the others report one user's change (user_status).
type Event struct {
	Snapshot bool
	UserIDs  []string
	UserID   string
	Status   Status
}

// Tracker keeps the set of online users as reported by the channel.
// Entries leave the set only on explicit offline events.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// Apply folds an event into the set and reports whether it changed.
func (t *Tracker) Apply(ev Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Snapshot {
		next := make(map[string]struct{}, len(ev.UserIDs))
		for _, id := range ev.UserIDs {
			if id != "" {
				next[id] = struct{}{}
			}
		}
		changed := !sameSet(t.online, next)
		t.online = next
		return changed
	}

	if ev.UserID == "" {
		return false
	}
	_, was := t.online[ev.UserID]
	if ev.Status == StatusOffline {
		delete(t.online, ev.UserID)
		return was
	}
	// any other status (online, away, busy) counts as reachable
	t.online[ev.UserID] = struct{}{}
	return !was
}

// IsOnline reports whether userID is in the online set.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns the online user ids in sorted order.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset forgets every entry.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{})
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
