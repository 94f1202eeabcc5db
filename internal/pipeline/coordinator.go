package pipeline

import (
	"sort"
	"sync"
)

// Coordinator tracks which sources have a fetch in flight. It is shared by
// the scheduler and manual collection so a source never runs twice at once.
type Coordinator struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewCoordinator returns a Coordinator with no running sources.
func NewCoordinator() *Coordinator {
	return &Coordinator{running: make(map[string]bool)}
}

// TryStart marks source as running. It reports false, and changes nothing,
// when the source is already running.
func (c *Coordinator) TryStart(source string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[source] {
		return false
	}
	c.running[source] = true
	return true
}

// Finish clears the running flag for source.
func (c *Coordinator) Finish(source string) {
	c.mu.Lock()
	delete(c.running, source)
	c.mu.Unlock()
}

// Running reports whether source is currently running.
func (c *Coordinator) Running(source string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running[source]
}

// Active lists the running sources, sorted.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.running))
	for s := range c.running {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
