package logstream

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of entries kept for the dashboard
const DefaultCapacity = 500

const redacted = "***"

// secretFields are matched case-insensitively against field names.
var secretFields = []string{"password", "memorableword", "token", "uri", "dsn"}

// Entry is a buffered copy of a log line
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Hook is a logrus hook that keeps the most recent entries in a ring buffer
// and fans new ones out to subscribers.
type Hook struct {
	mu     sync.RWMutex
	buf    []Entry
	next   int
	full   bool
	subs   map[int]chan Entry
	nextID int
}

var _ logrus.Hook = (*Hook)(nil)

// NewHook creates a hook keeping up to capacity entries
func NewHook(capacity int) *Hook {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hook{
		buf:  make([]Entry, capacity),
		subs: make(map[int]chan Entry),
	}
}

// Levels implements logrus.Hook
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (h *Hook) Fire(e *logrus.Entry) error {
	entry := Entry{
		Time:    e.Time.UTC(),
		Level:   e.Level.String(),
		Message: e.Message,
	}
	if len(e.Data) > 0 {
		entry.Fields = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			entry.Fields[k] = sanitize(k, v)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = entry
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}

	// Slow subscribers miss entries rather than block logging.
	for _, ch := range h.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	return nil
}

// Recent returns up to limit buffered entries, oldest first
func (h *Hook) Recent(limit int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ordered []Entry
	if h.full {
		ordered = append(ordered, h.buf[h.next:]...)
	}
	ordered = append(ordered, h.buf[:h.next]...)

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Subscribe registers a listener for new entries. The returned function
// unregisters it and closes the channel.
func (h *Hook) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func sanitize(key string, value any) any {
	lower := strings.ToLower(key)
	for _, s := range secretFields {
		if strings.Contains(lower, s) {
			return redacted
		}
	}
	if err, ok := value.(error); ok {
		return err.Error()
	}
	return value
}
