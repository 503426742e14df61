package transport

import "sync"

// SessionCache remembers the capability-negotiation decision for each
// device session. It lives here, not in internal/capability, because
// transport is the component that knows when a physical device session
// has ended (disconnect/reconnect) and must invalidate the cache.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string]any
}

// NewSessionCache returns an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{entries: make(map[string]any)}
}

// Get returns the cached decision for a device path, if any.
func (c *SessionCache) Get(devicePath string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[devicePath]
	return v, ok
}

// Set stores the decision for a device path.
func (c *SessionCache) Set(devicePath string, decision any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[devicePath] = decision
}

// Invalidate drops the cached decision for a device path, called on
// disconnect so a future reconnect renegotiates from scratch.
func (c *SessionCache) Invalidate(devicePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, devicePath)
}
