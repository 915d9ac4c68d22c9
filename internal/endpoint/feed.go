package endpoint

import (
	"sync"
	"time"
)

// Change kinds published on a Feed.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// Change describes one successful mutation of a record.
type Change struct {
	Entity string    `json:"entity"`
	ID     string    `json:"id"`
	Op     string    `json:"op"`
	At     time.Time `json:"at"`
}

// Feed fans changes out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the change.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	next   int
	buffer int
}

// NewFeed creates a feed whose subscribers buffer up to buffer changes.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	return &Feed{subs: make(map[int]chan Change), buffer: buffer}
}

// Publish delivers c to every subscriber with room for it and returns how
// many received it.
func (f *Feed) Publish(c Change) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.subs {
		select {
		case ch <- c:
			n++
		default:
		}
	}
	return n
}

// Subscribe returns a channel of changes and a function that ends the
// subscription and closes the channel.
func (f *Feed) Subscribe() (<-chan Change, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan Change, f.buffer)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
