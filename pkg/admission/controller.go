// Package admission bounds how many externally spawned processes may run
// at the same time.
//
// A Controller owns a fixed pool of slots, a registry of admitted
// processes keyed by pid, and a count of registrations still waiting for
// a slot. A slot is held from the moment Register obtains it until the
// record is removed by Unregister or Reap; no timeout ever releases it.
//
// Waiters are served in the order they reach the pool. Register calls
// arriving concurrently from different connections race to get there, so
// ordering is best-effort, not strict FIFO.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultCapacity is the default number of concurrently admitted processes.
	DefaultCapacity = 200
	// DefaultHighWater is the queue depth above which clients should throttle.
	DefaultHighWater = 1000
)

var (
	// ErrAlreadyRegistered is returned when the pid already holds a slot.
	ErrAlreadyRegistered = errors.New("process already registered")
	// ErrInvalidPid is returned for pid values that cannot name a single process.
	ErrInvalidPid = errors.New("invalid pid")
)

// ProcessRecord describes one admitted process. It is never mutated
// after creation.
type ProcessRecord struct {
	Pid     int32
	Command string
	Args    []string
	Started time.Time
}

// Age returns how long the process has held its slot.
func (r *ProcessRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.Started)
}

// Snapshot is a point-in-time view of the controller. The two counters
// are read independently.
type Snapshot struct {
	ActiveCount    int
	QueueDepth     int
	ShouldThrottle bool
}

// Controller is safe for concurrent use. Create one with New and share
// the pointer with every component that needs it.
type Controller struct {
	capacity int64
	pool     *semaphore.Weighted
	registry sync.Map // int32 -> *ProcessRecord

	active    atomic.Int64
	waiting   atomic.Int64
	highWater atomic.Int64

	now func() time.Time
}

// New creates a controller with the given number of slots.
func New(capacity int) *Controller {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Controller{
		capacity: int64(capacity),
		pool:     semaphore.NewWeighted(int64(capacity)),
		now:      time.Now,
	}
	c.highWater.Store(DefaultHighWater)
	return c
}

// Capacity returns the size of the slot pool.
func (c *Controller) Capacity() int {
	return int(c.capacity)
}

// SetClock replaces the time source used to stamp new records.
func (c *Controller) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// SetHighWater changes the queue depth above which ShouldThrottle is reported.
func (c *Controller) SetHighWater(n int) {
	if n < 0 {
		n = 0
	}
	c.highWater.Store(int64(n))
}

// HighWater returns the current throttle mark.
func (c *Controller) HighWater() int {
	return int(c.highWater.Load())
}

// Register waits for a free slot and records pid as admitted.
//
// The caller is counted as waiting from entry until a slot is obtained.
// There is no timeout; only ctx can abort the wait, in which case no
// slot is consumed and ctx.Err() is returned.
func (c *Controller) Register(ctx context.Context, pid int32, command string, args []string) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPid, pid)
	}
	if _, ok := c.registry.Load(pid); ok {
		return fmt.Errorf("%w: pid %d", ErrAlreadyRegistered, pid)
	}

	c.waiting.Add(1)
	err := c.pool.Acquire(ctx, 1)
	c.waiting.Add(-1)
	if err != nil {
		return err
	}

	rec := &ProcessRecord{
		Pid:     pid,
		Command: command,
		Args:    append([]string(nil), args...),
		Started: c.now(),
	}
	if _, loaded := c.registry.LoadOrStore(pid, rec); loaded {
		c.pool.Release(1)
		return fmt.Errorf("%w: pid %d", ErrAlreadyRegistered, pid)
	}
	c.active.Add(1)
	return nil
}

// Unregister removes pid and returns its slot. It reports whether a
// record was removed; calling it again for the same pid is a no-op.
func (c *Controller) Unregister(pid int32) bool {
	if _, ok := c.registry.LoadAndDelete(pid); !ok {
		return false
	}
	c.release()
	return true
}

// Reap removes rec only if it is still the record registered for its pid,
// and returns its slot. A pid that was unregistered and registered again
// since rec was observed is left alone.
func (c *Controller) Reap(rec *ProcessRecord) bool {
	if rec == nil || !c.registry.CompareAndDelete(rec.Pid, rec) {
		return false
	}
	c.release()
	return true
}

func (c *Controller) release() {
	c.active.Add(-1)
	c.pool.Release(1)
}

// Lookup returns the record for pid.
func (c *Controller) Lookup(pid int32) (*ProcessRecord, bool) {
	v, ok := c.registry.Load(pid)
	if !ok {
		return nil, false
	}
	return v.(*ProcessRecord), true
}

// Range calls fn for every admitted record until fn returns false.
// Each record present for the whole call is visited exactly once.
func (c *Controller) Range(fn func(rec *ProcessRecord) bool) {
	c.registry.Range(func(_, v any) bool {
		return fn(v.(*ProcessRecord))
	})
}

// Records returns the admitted records ordered by start time.
func (c *Controller) Records() []*ProcessRecord {
	var out []*ProcessRecord
	c.Range(func(rec *ProcessRecord) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].Pid < out[j].Pid
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// ActiveCount returns the number of admitted processes.
func (c *Controller) ActiveCount() int {
	return int(c.active.Load())
}

// QueueDepth returns the number of registrations waiting for a slot.
func (c *Controller) QueueDepth() int {
	return int(c.waiting.Load())
}

// Snapshot reads the current counters.
func (c *Controller) Snapshot() Snapshot {
	depth := c.QueueDepth()
	return Snapshot{
		ActiveCount:    c.ActiveCount(),
		QueueDepth:     depth,
		ShouldThrottle: depth > c.HighWater(),
	}
}
