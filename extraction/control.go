package extraction

import (
	"sync"
	"time"
)

// Control is the in-process control token of one live execution. The
// persisted job status remains the source of truth across processes.
type Control struct {
	mu     sync.Mutex
	done   chan struct{}
	wake   chan struct{}
	reason string
	paused bool
}

// NewControl creates a control token.
func NewControl() *Control {
	return &Control{
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}
}

// Cancel requests cancellation. Only the first reason is kept.
func (c *Control) Cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.reason = reason
	close(c.done)
	c.signal()
}

// Done is closed once Cancel has been called.
func (c *Control) Done() <-chan struct{} {
	return c.done
}

// Cancelled reports whether Cancel has been called.
func (c *Control) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Reason returns the cancellation reason.
func (c *Control) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Pause marks the execution paused.
func (c *Control) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume clears the paused flag and wakes a waiting execution.
func (c *Control) Resume() {
	c.mu.Lock()
	c.paused = false
	c.signal()
	c.mu.Unlock()
}

// Paused reports whether Pause was called without a matching Resume.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Control) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

type liveExecution struct {
	RunID     string
	Control   *Control
	StartedAt time.Time
}

// Registry tracks executions running in this process. It is an
// optimisation for fast in-process control and never authoritative.
type Registry struct {
	mu   sync.RWMutex
	live map[string]liveExecution
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]liveExecution)}
}

// Register records jobID as live.
func (r *Registry) Register(jobID, runID string, ctl *Control, startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[jobID] = liveExecution{RunID: runID, Control: ctl, StartedAt: startedAt}
}

// Unregister removes jobID.
func (r *Registry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, jobID)
}

// Control returns the token of a live job.
func (r *Registry) Control(jobID string) (*Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.live[jobID]
	return e.Control, ok
}

// JobIDs returns the live job ids.
func (r *Registry) JobIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	return ids
}

// RunIDs returns the runs of live jobs.
func (r *Registry) RunIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.live))
	for _, e := range r.live {
		ids = append(ids, e.RunID)
	}
	return ids
}

// Len is the number of live executions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
