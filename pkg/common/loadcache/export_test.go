package loadcache

// TrackedKeys reports how many keys currently carry population state.
func (c *Cache[V]) TrackedKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flight)
}
