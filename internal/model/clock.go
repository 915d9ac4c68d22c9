package model

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so tests can control it.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts record id generation so tests can produce
// deterministic ids.
type IDGenerator interface {
	New() string
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// UUIDGenerator implements IDGenerator using random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	return uuid.New().String()
}
