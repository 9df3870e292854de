package client

// Counter tracks a count of rows (like totals) by identifier, so repeated or
// contradictory change events cannot drive it negative or double-count.
type Counter struct {
	members map[string]struct{}
}

// NewCounter constructs an empty counter.
func NewCounter() *Counter {
	return &Counter{members: make(map[string]struct{})}
}

// Seed loads the identifiers from an initial query result.
func (c *Counter) Seed(rowIDs []string) {
	for _, rowID := range rowIDs {
		c.members[rowID] = struct{}{}
	}
}

// Add records a row. Adding a known row is a no-op.
func (c *Counter) Add(rowID string) {
	c.members[rowID] = struct{}{}
}

// Remove drops a row. Removing an unknown row is a no-op, so the count
// cannot go below zero.
func (c *Counter) Remove(rowID string) {
	delete(c.members, rowID)
}

// Value returns the current count.
func (c *Counter) Value() int {
	return len(c.members)
}
