package ingestmodel

// SnapshotState tracks whether a REST order-book snapshot has been fetched.
type SnapshotState string

const (
	SnapshotAbsent   SnapshotState = "absent"
	SnapshotPresent  SnapshotState = "present"
	SnapshotInFlight SnapshotState = "in-flight"
)

// BookStatus is the order-book reconcile FSM's coarse health state.
type BookStatus string

const (
	BookOK        BookStatus = "OK"
	BookResyncing BookStatus = "RESYNCING"
)

// OrderbookState is the per (symbol, marketType, streamId) book kept both
// inside a VenueClient (authoritative, per-connection) and independently
// rebuilt inside the LiquidityAggregator from published snapshots/deltas.
type OrderbookState struct {
	Bids           map[float64]float64
	Asks           map[float64]float64
	Snapshot       SnapshotState
	LastUpdateID   uint64
	PrevUpdateID   *uint64
	Status         BookStatus
	SequenceBroken bool
}

// NewOrderbookState returns a freshly reset book, the state every gap or
// disconnect collapses back to.
func NewOrderbookState() *OrderbookState {
	return &OrderbookState{
		Bids:           make(map[float64]float64),
		Asks:           make(map[float64]float64),
		Snapshot:       SnapshotAbsent,
		Status:         BookResyncing,
		SequenceBroken: true,
	}
}

// ApplyLevels merges a batch of price levels into one side of the book.
// A size of exactly 0 deletes the level.
func ApplyLevels(side map[float64]float64, levels []PriceLevel) {
	for _, lvl := range levels {
		if lvl.Size == 0 {
			delete(side, lvl.Price)
			continue
		}
		side[lvl.Price] = lvl.Size
	}
}

// Reset collapses the book back to the post-gap/disconnect state required
// by OrderbookState lifecycle.
func (s *OrderbookState) Reset() {
	s.Bids = make(map[float64]float64)
	s.Asks = make(map[float64]float64)
	s.Snapshot = SnapshotAbsent
	s.LastUpdateID = 0
	s.PrevUpdateID = nil
	s.Status = BookResyncing
	s.SequenceBroken = true
}
