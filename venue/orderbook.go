package venue

import (
	"sort"

	"github.com/aspenmd/ingestd/ingestmodel"
)

// ChainMode selects which chain predicate a venue's deltas satisfy: Binance
// futures carries a previous-update-id pointer, every other venue this
// module adapts chains purely on
// firstUpdateId == lastUpdateId(prev)+1.
type ChainMode int

const (
	ChainFirstLast ChainMode = iota
	ChainPrevUpdateID
)

// PendingDelta is a buffered delta awaiting the REST snapshot anchor.
type PendingDelta struct {
	FirstUpdateID uint64
	LastUpdateID  uint64
	PrevUpdateID  *uint64
	EventTs       int64
	Bids          []ingestmodel.PriceLevel
	Asks          []ingestmodel.PriceLevel
}

// Reconciler runs the per-symbol order-book reconcile FSM described in
// : buffer deltas until a REST snapshot anchors the book, then
// apply only deltas whose chain predicate holds, resyncing on any gap or
// out-of-order delta.
type Reconciler struct {
	mode  ChainMode
	state *ingestmodel.OrderbookState

	buffer []PendingDelta
}

// NewReconciler constructs a Reconciler for one symbol/stream in the given
// chain mode, starting in the RESYNCING state (buffering, no snapshot).
func NewReconciler(mode ChainMode) *Reconciler {
	return &Reconciler{mode: mode, state: ingestmodel.NewOrderbookState()}
}

// State exposes the underlying book for readers (e.g. the
// LiquidityAggregator's independent rebuild keeps its own copy instead).
func (r *Reconciler) State() *ingestmodel.OrderbookState { return r.state }

// BufferDelta appends a delta observed before the snapshot anchor arrived.
func (r *Reconciler) BufferDelta(d PendingDelta) {
	r.buffer = append(r.buffer, d)
}

// ResyncResult is returned by ApplySnapshot and ApplyDelta to tell the
// caller what, if anything, to publish.
type ResyncResult struct {
	EmitSnapshot  bool
	ResyncRequested bool
	ResyncReason    string // "gap" | "out_of_order"
}

// ApplySnapshot anchors the book at a freshly fetched REST snapshot with
// lastUpdateId U0, discards now-stale buffered deltas, locates the first
// delta that bridges the anchor, and replays the remainder. If no bridging
// delta exists, the caller must request a fresh resync.
func (r *Reconciler) ApplySnapshot(bids, asks []ingestmodel.PriceLevel, u0 uint64) ResyncResult {
	r.state.Bids = make(map[float64]float64)
	r.state.Asks = make(map[float64]float64)
	ingestmodel.ApplyLevels(r.state.Bids, bids)
	ingestmodel.ApplyLevels(r.state.Asks, asks)
	r.state.LastUpdateID = u0
	r.state.Snapshot = ingestmodel.SnapshotPresent

	sort.Slice(r.buffer, func(i, j int) bool {
		if r.buffer[i].FirstUpdateID != r.buffer[j].FirstUpdateID {
			return r.buffer[i].FirstUpdateID < r.buffer[j].FirstUpdateID
		}
		if r.buffer[i].LastUpdateID != r.buffer[j].LastUpdateID {
			return r.buffer[i].LastUpdateID < r.buffer[j].LastUpdateID
		}
		return r.buffer[i].EventTs < r.buffer[j].EventTs
	})

	kept := r.buffer[:0]
	for _, d := range r.buffer {
		if r.mode == ChainPrevUpdateID {
			if d.LastUpdateID < u0 {
				continue
			}
		} else {
			if d.LastUpdateID <= u0 {
				continue
			}
		}
		kept = append(kept, d)
	}
	r.buffer = kept

	bridgeIdx := -1
	for i, d := range r.buffer {
		var anchorMatches bool
		if r.mode == ChainPrevUpdateID {
			anchorMatches = d.FirstUpdateID <= u0 && u0 <= d.LastUpdateID
		} else {
			anchorMatches = d.FirstUpdateID <= u0+1 && u0+1 <= d.LastUpdateID
		}
		if anchorMatches {
			bridgeIdx = i
			break
		}
	}

	if bridgeIdx == -1 {
		if len(r.buffer) == 0 || r.buffer[0].FirstUpdateID > u0+1 {
			r.state.Status = ingestmodel.BookResyncing
			r.state.SequenceBroken = true
			return ResyncResult{ResyncRequested: true, ResyncReason: "gap"}
		}
		// buffer holds only stale deltas below the anchor; wait for more.
		return ResyncResult{}
	}

	r.state.Status = ingestmodel.BookOK
	r.state.SequenceBroken = false

	for _, d := range r.buffer[bridgeIdx:] {
		if res := r.applyChained(d); res.ResyncRequested {
			r.buffer = nil
			return res
		}
	}
	r.buffer = nil
	return ResyncResult{EmitSnapshot: true}
}

// ApplyDelta applies one live delta once the book is anchored, verifying
// the chain predicate. Deltas observed before a snapshot exists are
// buffered instead.
func (r *Reconciler) ApplyDelta(d PendingDelta) ResyncResult {
	if r.state.Snapshot != ingestmodel.SnapshotPresent {
		r.BufferDelta(d)
		return ResyncResult{}
	}
	return r.applyChained(d)
}

func (r *Reconciler) applyChained(d PendingDelta) ResyncResult {
	var ok bool
	if r.mode == ChainPrevUpdateID {
		ok = d.PrevUpdateID != nil && *d.PrevUpdateID == r.state.LastUpdateID
	} else {
		ok = d.FirstUpdateID == r.state.LastUpdateID+1
	}

	if !ok {
		r.requestResync("out_of_order")
		return ResyncResult{ResyncRequested: true, ResyncReason: "out_of_order"}
	}

	ingestmodel.ApplyLevels(r.state.Bids, d.Bids)
	ingestmodel.ApplyLevels(r.state.Asks, d.Asks)
	r.state.LastUpdateID = d.LastUpdateID
	r.state.PrevUpdateID = d.PrevUpdateID
	return ResyncResult{}
}

func (r *Reconciler) requestResync(reason string) {
	r.state.Status = ingestmodel.BookResyncing
	r.state.SequenceBroken = true
	r.state.Snapshot = ingestmodel.SnapshotAbsent
	r.buffer = nil
}

// OnDisconnect resets all order-book state for the connection: a
// market:disconnected event resets all order-book state for that
// connection.
func (r *Reconciler) OnDisconnect() {
	r.state.Reset()
	r.buffer = nil
}
