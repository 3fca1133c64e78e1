package core

import (
	"sync"
)

// Stamp is a Lamport time paired with the replica that produced it.
// Two ticks from different replicas can land on the same Time once
// merged across a sync boundary; Origin gives mergeRegister-style
// callers a deterministic way to break that tie without inspecting the
// payload the stamp is attached to.
type Stamp struct {
	Time   uint64
	Origin RepoID
}

// Less reports whether s sorts strictly before other: higher Time wins,
// and Origin (compared as a string, so the order is stable and total)
// breaks a tie between equal Times.
func (s Stamp) Less(other Stamp) bool {
	if s.Time != other.Time {
		return s.Time < other.Time
	}
	return s.Origin.String() < other.Origin.String()
}

// Clock implements a Lamport logical clock scoped to one replica. Every
// tick is stamped with that replica's id, so a document merging
// same-time writes from two different origins can still order them
// deterministically.
type Clock struct {
	mu     sync.Mutex
	time   uint64
	origin RepoID
}

// NewClock creates a new Lamport clock for origin, starting at time 0.
func NewClock(origin RepoID) *Clock {
	return &Clock{origin: origin}
}

// NewClockWithTime creates a Lamport clock for origin with an initial
// time. Useful for restoring clock state from persistent storage.
func NewClockWithTime(origin RepoID, initialTime uint64) *Clock {
	return &Clock{origin: origin, time: initialTime}
}

// Tick increments the clock and returns the new stamp.
// Must be called before every local mutation.
func (c *Clock) Tick() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return Stamp{Time: c.time, Origin: c.origin}
}

// Update merges with a remote timestamp.
// Sets local time to max(local, remote) + 1, keeping this clock's own
// origin for any stamps it produces afterward.
// Must be called when receiving remote state.
func (c *Clock) Update(remoteTime uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remoteTime > c.time {
		c.time = remoteTime
	}
	c.time++
	return c.time
}

// Now returns the current clock time without incrementing.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// Origin returns the replica id this clock stamps its ticks with.
func (c *Clock) Origin() RepoID {
	return c.origin
}
