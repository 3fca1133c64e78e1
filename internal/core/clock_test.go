package core

import (
	"sync"
	"testing"
)

func TestNewClock(t *testing.T) {
	origin := NewRepoID()
	c := NewClock(origin)
	if c.Now() != 0 {
		t.Errorf("expected new clock to be at 0, got %d", c.Now())
	}
	if c.Origin() != origin {
		t.Errorf("expected clock origin %v, got %v", origin, c.Origin())
	}
}

func TestNewClockWithTime(t *testing.T) {
	origin := NewRepoID()
	c := NewClockWithTime(origin, 100)
	if c.Now() != 100 {
		t.Errorf("expected clock to be at 100, got %d", c.Now())
	}
}

func TestTick(t *testing.T) {
	origin := NewRepoID()
	c := NewClock(origin)

	s1 := c.Tick()
	if s1.Time != 1 {
		t.Errorf("expected first tick to be 1, got %d", s1.Time)
	}
	if s1.Origin != origin {
		t.Errorf("expected tick origin %v, got %v", origin, s1.Origin)
	}

	s2 := c.Tick()
	if s2.Time != 2 {
		t.Errorf("expected second tick to be 2, got %d", s2.Time)
	}

	if c.Now() != 2 {
		t.Errorf("expected current time to be 2, got %d", c.Now())
	}
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name       string
		localTime  uint64
		remoteTime uint64
		expected   uint64
	}{
		{
			name:       "remote is higher",
			localTime:  5,
			remoteTime: 10,
			expected:   11, // max(5, 10) + 1
		},
		{
			name:       "local is higher",
			localTime:  15,
			remoteTime: 10,
			expected:   16, // max(15, 10) + 1
		},
		{
			name:       "equal times",
			localTime:  10,
			remoteTime: 10,
			expected:   11, // max(10, 10) + 1
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClockWithTime(NewRepoID(), tt.localTime)
			result := c.Update(tt.remoteTime)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestClockConcurrency(t *testing.T) {
	c := NewClock(NewRepoID())
	var wg sync.WaitGroup
	numGoroutines := 100
	ticksPerGoroutine := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < ticksPerGoroutine; j++ {
				c.Tick()
			}
		}()
	}
	wg.Wait()

	expected := uint64(numGoroutines * ticksPerGoroutine)
	if c.Now() != expected {
		t.Errorf("expected clock to be at %d after concurrent ticks, got %d", expected, c.Now())
	}
}

func TestClockMonotonicity(t *testing.T) {
	c := NewClock(NewRepoID())
	var prev uint64 = 0

	for i := 0; i < 1000; i++ {
		curr := c.Tick()
		if curr.Time <= prev {
			t.Errorf("clock is not monotonic: prev=%d, curr=%d", prev, curr.Time)
		}
		prev = curr.Time
	}
}

func TestStampLessOrdersByTimeThenOrigin(t *testing.T) {
	lo, err := RepoIDFromString("11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("RepoIDFromString(lo): %v", err)
	}
	hi, err := RepoIDFromString("22222222-2222-2222-2222-222222222222")
	if err != nil {
		t.Fatalf("RepoIDFromString(hi): %v", err)
	}

	if !(Stamp{Time: 1, Origin: lo}).Less(Stamp{Time: 2, Origin: lo}) {
		t.Error("lower time should sort before higher time regardless of origin")
	}
	if (Stamp{Time: 2, Origin: hi}).Less(Stamp{Time: 1, Origin: lo}) {
		t.Error("higher time should never sort before a lower time")
	}
	if !(Stamp{Time: 5, Origin: lo}).Less(Stamp{Time: 5, Origin: hi}) {
		t.Error("equal times should break the tie by comparing origin")
	}
	if (Stamp{Time: 5, Origin: hi}).Less(Stamp{Time: 5, Origin: lo}) {
		t.Error("the higher origin must not sort before the lower one at equal times")
	}
}
