package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation tags a change event with the mutation kind. Values match the wire
// format emitted by the backend.
type Operation string

const (
	// OperationInsert carries the inserted row's current values.
	OperationInsert Operation = "insert"
	// OperationUpdate carries the updated row's current values.
	OperationUpdate Operation = "update"
	// OperationDelete carries the deleted row's prior values.
	OperationDelete Operation = "delete"
)

// Watched table names, matching the backend.
const (
	TableProfiles = "profiles"
	TablePosts    = "posts"
	TableComments = "comments"
	TableLikes    = "likes"
	TableMessages = "messages"
)

// ChangeEvent is a server-pushed notification of a row mutation.
type ChangeEvent struct {
	Sequence  int64           `json:"sequence"`
	Table     string          `json:"table"`
	Operation Operation       `json:"operation"`
	RowID     string          `json:"row_id"`
	Row       json.RawMessage `json:"row"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChangeHandlers receives decoded change events for one table.
type ChangeHandlers struct {
	OnInsert func(ChangeEvent)
	OnUpdate func(ChangeEvent)
	OnDelete func(ChangeEvent)
}

func (h ChangeHandlers) dispatch(event ChangeEvent) {
	switch event.Operation {
	case OperationInsert:
		if h.OnInsert != nil {
			h.OnInsert(event)
		}
	case OperationUpdate:
		if h.OnUpdate != nil {
			h.OnUpdate(event)
		}
	case OperationDelete:
		if h.OnDelete != nil {
			h.OnDelete(event)
		}
	}
}

// Row is the SDK's uniform view of a record: the identifying and ordering
// fields lifted out, plus the raw payload for rendering.
type Row struct {
	ID        string
	AuthorID  string
	Content   string
	CreatedAt time.Time
	Data      json.RawMessage
}

type tableShape struct {
	idField      string
	authorField  string
	contentField string
}

// Per-table field mapping for lifting Row out of a JSON payload.
var tableShapes = map[string]tableShape{
	TableProfiles: {idField: "user_id", authorField: "user_id", contentField: "username"},
	TablePosts:    {idField: "post_id", authorField: "author_id", contentField: "content"},
	TableComments: {idField: "comment_id", authorField: "author_id", contentField: "content"},
	TableLikes:    {idField: "like_id", authorField: "user_id"},
	TableMessages: {idField: "message_id", authorField: "sender_id", contentField: "body"},
}

// DecodeRow lifts a table row out of its JSON payload.
func DecodeRow(table string, payload json.RawMessage) (Row, error) {
	shape, ok := tableShapes[table]
	if !ok {
		return Row{}, fmt.Errorf("unknown table %q", table)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Row{}, fmt.Errorf("decode %s row: %w", table, err)
	}

	row := Row{Data: payload}
	if err := json.Unmarshal(fields[shape.idField], &row.ID); err != nil {
		return Row{}, fmt.Errorf("decode %s row id: %w", table, err)
	}
	if raw, ok := fields[shape.authorField]; ok {
		_ = json.Unmarshal(raw, &row.AuthorID)
	}
	if shape.contentField != "" {
		if raw, ok := fields[shape.contentField]; ok {
			_ = json.Unmarshal(raw, &row.Content)
		}
	}
	if raw, ok := fields["created_at"]; ok {
		_ = json.Unmarshal(raw, &row.CreatedAt)
	}
	return row, nil
}
