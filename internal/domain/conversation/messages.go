package conversation

// messageList is the ordered message sequence of one conversation. Ids that
// were replaced by their durable counterpart stay resolvable through aliases
// so late echoes of a provisional id are still recognised.
type messageList struct {
	items   []Message
	aliases map[string]string
}

func newMessageList(messages []Message) *messageList {
	l := &messageList{aliases: make(map[string]string)}
	for _, m := range messages {
		l.append(m)
	}
	return l
}

func (l *messageList) resolve(id string) string {
	if durable, ok := l.aliases[id]; ok {
		return durable
	}
	return id
}

func (l *messageList) indexOf(id string) int {
	if id == "" {
		return -1
	}
	id = l.resolve(id)
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

// contains reports whether any of the given ids is already present.
func (l *messageList) contains(ids ...string) bool {
	for _, id := range ids {
		if l.indexOf(id) >= 0 {
			return true
		}
	}
	return false
}

func (l *messageList) get(id string) (Message, bool) {
	i := l.indexOf(id)
	if i < 0 {
		return Message{}, false
	}
	return l.items[i], true
}

// append adds m unless its id is already present.
func (l *messageList) append(m Message) bool {
	if m.ID == "" || l.contains(m.ID) {
		return false
	}
	l.items = append(l.items, m)
	return true
}

func (l *messageList) update(id string, fn func(*Message)) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	fn(&l.items[i])
	return true
}

func (l *messageList) remove(id string) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

// reconcile replaces a provisional id with its durable id and advances the
// status. If the durable id is already present, the provisional entry is
// dropped so exactly one copy remains.
func (l *messageList) reconcile(provisionalID, durableID string, status Status) bool {
	i := l.indexOf(provisionalID)
	if i < 0 {
		return false
	}

	if durableID != "" && l.items[i].ID != durableID {
		if j := l.indexOf(durableID); j >= 0 && j != i {
			l.items = append(l.items[:i], l.items[i+1:]...)
			l.aliases[provisionalID] = durableID
			if j > i {
				j--
			}
			advance(&l.items[j], status)
			return true
		}
		l.aliases[l.items[i].ID] = durableID
		l.items[i].ID = durableID
	}
	advance(&l.items[i], status)
	return true
}

func advance(m *Message, status Status) {
	if m.Status == status || m.Status.CanTransition(status) {
		m.Status = status
		m.Unconfirmed = false
	}
}

// merge appends every message of other whose id is absent.
func (l *messageList) merge(other *messageList) {
	for _, m := range other.items {
		l.append(m)
	}
	for from, to := range other.aliases {
		if _, ok := l.aliases[from]; !ok {
			l.aliases[from] = to
		}
	}
}

func (l *messageList) snapshot() []Message {
	out := make([]Message, len(l.items))
	copy(out, l.items)
	return out
}

func (l *messageList) last() (Message, bool) {
	if len(l.items) == 0 {
		return Message{}, false
	}
	return l.items[len(l.items)-1], true
}
