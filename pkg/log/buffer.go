package log

import (
	"sync"
	"time"
)

// DefaultBufferLimit is the number of user messages kept before the oldest are dropped.
const DefaultBufferLimit = 200

type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Buffer is a bounded, thread-safe list of user-visible log messages.
type Buffer struct {
	lock    sync.RWMutex
	limit   int
	entries []Entry
	now     func() time.Time
}

func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &Buffer{
		limit: limit,
		now:   time.Now,
	}
}

func (b *Buffer) Push(message string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.entries = append(b.entries, Entry{Time: b.now(), Message: message})
	if over := len(b.entries) - b.limit; over > 0 {
		b.entries = append(b.entries[:0], b.entries[over:]...)
	}
}

// Entries returns a copy of the buffered messages, oldest first.
func (b *Buffer) Entries() []Entry {
	b.lock.RLock()
	defer b.lock.RUnlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *Buffer) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.entries)
}
