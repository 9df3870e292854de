package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Provisional identifiers are ULIDs under a reserved prefix so they can never
// collide with the UUIDs the server assigns.
const provisionalPrefix = "pending-"

// Default window for matching a confirmed insert to a provisional row when
// the mutation response never arrived.
const defaultMatchWindow = 10 * time.Second

var (
	errMissingTable      = errors.New("reconciler: table is required")
	errMissingCollection = errors.New("reconciler: collection is required")
)

// PatchKind enumerates the optimistic mutation kinds.
type PatchKind int

const (
	// PatchInsert adds a provisional row ahead of server confirmation.
	PatchInsert PatchKind = iota
	// PatchUpdate replaces a row's values ahead of server confirmation.
	PatchUpdate
	// PatchDelete removes a row ahead of server confirmation.
	PatchDelete
)

// Action describes a user mutation to apply optimistically. For inserts the
// row's ID is ignored; a provisional identifier is assigned. For updates and
// deletes the row's ID names the target.
type Action struct {
	Kind PatchKind
	Row  Row
}

// Patch is the handle for one optimistic mutation. It is settled exactly once:
// by Confirm (the request succeeded), by Rollback (the request failed), or by
// a matching change event arriving first.
type Patch struct {
	id        string
	kind      PatchKind
	rowID     string
	prior     *Row
	createdAt time.Time
	settled   bool
	// Sequence last applied to the row when the patch was taken. Rollback
	// only restores prior state if no newer server event arrived since.
	baselineSeq int64
}

// RowID returns the identifier the patch currently occupies in the
// collection. For inserts this is the provisional identifier until promotion.
func (p *Patch) RowID() string {
	return p.rowID
}

// Settled reports whether the patch has been confirmed, rolled back, or
// promoted by a change event.
func (p *Patch) Settled() bool {
	return p.settled
}

// ReconcilerConfig describes one screen's reconciler.
type ReconcilerConfig struct {
	Table       string
	Collection  *Collection
	Clock       func() time.Time
	MatchWindow time.Duration
}

// Reconciler keeps one screen's collection consistent with both local user
// intent and server-confirmed truth. It must only be used from the goroutine
// that owns the collection.
type Reconciler struct {
	table       string
	collection  *Collection
	clock       func() time.Time
	matchWindow time.Duration
	pending     []*Patch
	lastApplied map[string]int64
}

// NewReconciler constructs a reconciler for one table.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Table == "" {
		return nil, errMissingTable
	}
	if cfg.Collection == nil {
		return nil, errMissingCollection
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	window := cfg.MatchWindow
	if window <= 0 {
		window = defaultMatchWindow
	}
	return &Reconciler{
		table:       cfg.Table,
		collection:  cfg.Collection,
		clock:       clock,
		matchWindow: window,
		lastApplied: make(map[string]int64),
	}, nil
}

// ApplyOptimistic applies the action to the collection immediately and
// returns the patch handle. It always succeeds locally; an update or delete
// of an absent row yields a patch whose rollback is a no-op.
func (r *Reconciler) ApplyOptimistic(action Action) *Patch {
	now := r.clock().UTC()
	patch := &Patch{
		id:        ulid.Make().String(),
		kind:      action.Kind,
		createdAt: now,
	}

	switch action.Kind {
	case PatchInsert:
		row := action.Row
		row.ID = provisionalPrefix + patch.id
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		patch.rowID = row.ID
		r.collection.Upsert(row)
	case PatchUpdate:
		patch.rowID = action.Row.ID
		patch.baselineSeq = r.lastApplied[action.Row.ID]
		if prior, ok := r.collection.Get(action.Row.ID); ok {
			priorCopy := prior
			patch.prior = &priorCopy
			r.collection.Upsert(action.Row)
		}
	case PatchDelete:
		patch.rowID = action.Row.ID
		patch.baselineSeq = r.lastApplied[action.Row.ID]
		if prior, ok := r.collection.Get(action.Row.ID); ok {
			priorCopy := prior
			patch.prior = &priorCopy
			r.collection.Remove(action.Row.ID)
		}
	}

	r.pending = append(r.pending, patch)
	return patch
}

// Confirm settles the patch with the row returned by the mutation response.
// For inserts the provisional row is promoted to its confirmed identity.
func (r *Reconciler) Confirm(patch *Patch, confirmed Row) {
	if patch == nil || patch.settled {
		return
	}
	if patch.kind == PatchInsert {
		if !r.collection.Replace(patch.rowID, confirmed) {
			r.collection.Upsert(confirmed)
		}
		patch.rowID = confirmed.ID
	}
	r.settle(patch)
}

// Rollback reverts the patch after its originating request failed. With no
// intervening change event the collection returns to its pre-patch state; if a
// newer event for the row arrived in between, the server's state stands.
func (r *Reconciler) Rollback(patch *Patch) {
	if patch == nil || patch.settled {
		return
	}
	switch patch.kind {
	case PatchInsert:
		r.collection.Remove(patch.rowID)
	case PatchUpdate, PatchDelete:
		if patch.prior != nil && r.lastApplied[patch.rowID] == patch.baselineSeq {
			r.collection.Upsert(*patch.prior)
		}
	}
	r.settle(patch)
}

// Reconcile merges a server change event into the collection. Applying the
// same event twice leaves the collection unchanged.
func (r *Reconciler) Reconcile(event ChangeEvent) error {
	if event.Table != r.table {
		return fmt.Errorf("reconciler: event for table %q delivered to %q", event.Table, r.table)
	}
	row, err := DecodeRow(event.Table, event.Row)
	if err != nil {
		return err
	}

	// Arrival order wins for equal-or-older sequences; a redelivered or stale
	// event is dropped rather than re-applied.
	if event.Sequence > 0 {
		if last, ok := r.lastApplied[row.ID]; ok && event.Sequence <= last {
			return nil
		}
		r.lastApplied[row.ID] = event.Sequence
	}

	switch event.Operation {
	case OperationInsert:
		if r.collection.Contains(row.ID) {
			r.collection.Upsert(row)
			return nil
		}
		if patch := r.matchProvisionalInsert(row); patch != nil {
			if !r.collection.Replace(patch.rowID, row) {
				r.collection.Upsert(row)
			}
			patch.rowID = row.ID
			r.settle(patch)
			return nil
		}
		r.collection.Upsert(row)
	case OperationUpdate:
		r.collection.Upsert(row)
	case OperationDelete:
		r.collection.Remove(row.ID)
		// A delete ends the row's lifecycle; drop its sequence bookkeeping so
		// a long-lived screen does not accumulate entries for dead rows.
		delete(r.lastApplied, row.ID)
		if patch := r.pendingDelete(row.ID); patch != nil {
			r.settle(patch)
		}
	default:
		return fmt.Errorf("reconciler: unknown operation %q", event.Operation)
	}
	return nil
}

// matchProvisionalInsert finds the oldest unsettled provisional insert whose
// author and content match the confirmed row within the match window. Taking
// the oldest patch makes the pairing deterministic even when two identical
// actions are outstanding.
func (r *Reconciler) matchProvisionalInsert(row Row) *Patch {
	for _, patch := range r.pending {
		if patch.settled || patch.kind != PatchInsert {
			continue
		}
		provisional, ok := r.collection.Get(patch.rowID)
		if !ok {
			continue
		}
		if provisional.AuthorID != row.AuthorID || provisional.Content != row.Content {
			continue
		}
		gap := row.CreatedAt.Sub(provisional.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= r.matchWindow {
			return patch
		}
	}
	return nil
}

func (r *Reconciler) pendingDelete(rowID string) *Patch {
	for _, patch := range r.pending {
		if !patch.settled && patch.kind == PatchDelete && patch.rowID == rowID {
			return patch
		}
	}
	return nil
}

func (r *Reconciler) settle(patch *Patch) {
	patch.settled = true
	remaining := r.pending[:0]
	for _, pending := range r.pending {
		if !pending.settled {
			remaining = append(remaining, pending)
		}
	}
	r.pending = remaining
}
