package testutil

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"statesync/internal/model"
)

var (
	_ model.Clock       = (*StubClock)(nil)
	_ model.IDGenerator = (*StubIDGenerator)(nil)
)

// StubClock is a manually advanced clock shared by a manager and its cache
// in tests.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock starts at 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, time.January, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, which is how tests age cache
// entries past their freshness window.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out "id-1", "id-2", ... in call order.
type StubIDGenerator struct {
	n atomic.Int64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return "id-" + strconv.FormatInt(g.n.Add(1), 10)
}
