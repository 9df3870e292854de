package client

import "sort"

// SortOrder fixes how a collection keeps its rows arranged.
type SortOrder int

const (
	// CreatedAscending orders oldest first (comments, messages).
	CreatedAscending SortOrder = iota
	// CreatedDescending orders newest first (posts).
	CreatedDescending
)

// Collection is an ordered view of rows for one screen. It never holds two
// rows with the same identifier, and the sort order holds after every
// mutation. A Collection is not safe for concurrent use; each screen mutates
// its own collection from a single goroutine.
type Collection struct {
	order SortOrder
	rows  []Row
	index map[string]int
}

// NewCollection constructs an empty collection with the given order.
func NewCollection(order SortOrder) *Collection {
	return &Collection{
		order: order,
		index: make(map[string]int),
	}
}

// Len returns the number of rows.
func (c *Collection) Len() int {
	return len(c.rows)
}

// Contains reports whether a row with the identifier is present.
func (c *Collection) Contains(rowID string) bool {
	_, ok := c.index[rowID]
	return ok
}

// Get returns the row with the identifier.
func (c *Collection) Get(rowID string) (Row, bool) {
	position, ok := c.index[rowID]
	if !ok {
		return Row{}, false
	}
	return c.rows[position], true
}

// Rows returns the rows in display order. The slice is a copy.
func (c *Collection) Rows() []Row {
	out := make([]Row, len(c.rows))
	copy(out, c.rows)
	return out
}

// Upsert inserts the row or replaces the existing row with the same
// identifier, then restores the sort order.
func (c *Collection) Upsert(row Row) {
	if position, ok := c.index[row.ID]; ok {
		c.rows[position] = row
	} else {
		c.rows = append(c.rows, row)
	}
	c.resort()
}

// Remove deletes the row with the identifier. Removing an absent row is a
// no-op and reports false.
func (c *Collection) Remove(rowID string) bool {
	position, ok := c.index[rowID]
	if !ok {
		return false
	}
	c.rows = append(c.rows[:position], c.rows[position+1:]...)
	c.resort()
	return true
}

// Replace swaps the row with oldID for the provided row, preserving order.
// Used to promote a provisional row to its server-confirmed identity.
func (c *Collection) Replace(oldID string, row Row) bool {
	position, ok := c.index[oldID]
	if !ok {
		return false
	}
	// If the confirmed identifier is already present, drop the stale copy so
	// the identifier stays unique.
	if other, ok := c.index[row.ID]; ok && other != position {
		c.rows = append(c.rows[:other], c.rows[other+1:]...)
		c.reindex()
		position = c.index[oldID]
	}
	c.rows[position] = row
	c.resort()
	return true
}

func (c *Collection) resort() {
	ascending := c.order == CreatedAscending
	sort.SliceStable(c.rows, func(i, j int) bool {
		left, right := c.rows[i], c.rows[j]
		if !left.CreatedAt.Equal(right.CreatedAt) {
			if ascending {
				return left.CreatedAt.Before(right.CreatedAt)
			}
			return left.CreatedAt.After(right.CreatedAt)
		}
		if ascending {
			return left.ID < right.ID
		}
		return left.ID > right.ID
	})
	c.reindex()
}

func (c *Collection) reindex() {
	c.index = make(map[string]int, len(c.rows))
	for position, row := range c.rows {
		c.index[row.ID] = position
	}
}
