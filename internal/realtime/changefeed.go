package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Operation tags a change event with the mutation kind.
type Operation string

const (
	// OperationInsert carries the inserted row's current values.
	OperationInsert Operation = "insert"
	// OperationUpdate carries the updated row's current values.
	OperationUpdate Operation = "update"
	// OperationDelete carries the deleted row's prior values.
	OperationDelete Operation = "delete"
)

// Watched table names.
const (
	TableProfiles = "profiles"
	TablePosts    = "posts"
	TableComments = "comments"
	TableLikes    = "likes"
	TableMessages = "messages"
)

// ChangeEvent is a server-pushed notification of a row mutation. Sequence is
// assigned by the dispatcher and increases monotonically across all tables, so
// consumers can discard stale redeliveries.
type ChangeEvent struct {
	Sequence  int64           `json:"sequence"`
	Table     string          `json:"table"`
	Operation Operation       `json:"operation"`
	RowID     string          `json:"row_id"`
	Row       json.RawMessage `json:"row"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher is the emitting half of the change feed. Audience narrows
// delivery to specific user ids; an empty audience broadcasts to every
// subscriber of the table.
type Publisher interface {
	Publish(table string, op Operation, rowID string, row any, audience ...string)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, Operation, string, any, ...string) {}

type subscriber struct {
	id       int64
	userID   string
	tables   map[string]struct{}
	audience bool
	stream   chan ChangeEvent
}

// Dispatcher fans change events out to table subscribers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	sequence    int64
	bufferSize  int
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  32,
	}
}

// Subscribe registers interest in the given tables on behalf of userID and
// returns the event stream plus a cancel function. The subscription is also
// torn down when ctx is done. After cancellation no further events are
// delivered to the stream.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string, tables []string) (<-chan ChangeEvent, func()) {
	if len(tables) == 0 {
		ch := make(chan ChangeEvent)
		close(ch)
		return ch, func() {}
	}

	tableSet := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		tableSet[table] = struct{}{}
	}

	d.mu.Lock()
	d.nextID++
	sub := &subscriber{
		id:     d.nextID,
		userID: userID,
		tables: tableSet,
		stream: make(chan ChangeEvent, d.bufferSize),
	}
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, sub.id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish marshals the row, stamps a sequence number, and delivers the event
// to every matching subscriber. Delivery is non-blocking; a subscriber that
// cannot keep up drops events rather than stalling the publisher.
func (d *Dispatcher) Publish(table string, op Operation, rowID string, row any, audience ...string) {
	if table == "" || rowID == "" {
		return
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return
	}

	d.mu.Lock()
	d.sequence++
	event := ChangeEvent{
		Sequence:  d.sequence,
		Table:     table,
		Operation: op,
		RowID:     rowID,
		Row:       payload,
		Timestamp: time.Now().UTC(),
	}
	targets := make([]*subscriber, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		if _, ok := sub.tables[table]; !ok {
			continue
		}
		if len(audience) > 0 && !containsUser(audience, sub.userID) {
			continue
		}
		targets = append(targets, sub)
	}
	d.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func containsUser(audience []string, userID string) bool {
	for _, member := range audience {
		if member == userID {
			return true
		}
	}
	return false
}
