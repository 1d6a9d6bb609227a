package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspenmd/ingestd/ingestmodel"
)

func u64(v uint64) *uint64 { return &v }

// Depth bootstrap: snapshot{lastUpdateId:0} then delta{U:1,u:1} yields one
// emitted snapshot anchor and one applied delta, no resync.
func TestReconciler_DepthBootstrapFromZeroAnchor(t *testing.T) {
	r := NewReconciler(ChainFirstLast)
	r.BufferDelta(PendingDelta{
		FirstUpdateID: 1,
		LastUpdateID:  1,
		EventTs:       1700000000000,
		Bids:          []ingestmodel.PriceLevel{{Price: 100, Size: 1}},
		Asks:          []ingestmodel.PriceLevel{{Price: 101, Size: 1}},
	})

	res := r.ApplySnapshot(nil, nil, 0)
	require.True(t, res.EmitSnapshot)
	assert.False(t, res.ResyncRequested)

	assert.Equal(t, ingestmodel.BookOK, r.State().Status)
	assert.False(t, r.State().SequenceBroken)
	assert.Equal(t, uint64(1), r.State().LastUpdateID)
	assert.Equal(t, 1.0, r.State().Bids[100])
	assert.Equal(t, 1.0, r.State().Asks[101])
}

func TestReconciler_DiscardsDeltasAtOrBelowAnchor_Spot(t *testing.T) {
	r := NewReconciler(ChainFirstLast)
	// spot/OKX rule: discard lastUpdateId <= U0
	r.BufferDelta(PendingDelta{FirstUpdateID: 1, LastUpdateID: 5, EventTs: 1})
	r.BufferDelta(PendingDelta{FirstUpdateID: 6, LastUpdateID: 6, EventTs: 2})

	res := r.ApplySnapshot(nil, nil, 5)
	require.True(t, res.EmitSnapshot)
	assert.Equal(t, uint64(6), r.State().LastUpdateID)
}

func TestReconciler_RetainsDeltaAtExactAnchor_BinanceFutures(t *testing.T) {
	r := NewReconciler(ChainPrevUpdateID)
	// futures discard rule is lastUpdateId < U0 (strict), unlike spot's
	// <=, so a delta whose lastUpdateId exactly equals the anchor must
	// survive the discard pass.
	r.BufferDelta(PendingDelta{FirstUpdateID: 1, LastUpdateID: 5, PrevUpdateID: u64(5), EventTs: 1})

	res := r.ApplySnapshot(nil, nil, 5)
	assert.True(t, res.EmitSnapshot, "delta with lastUpdateId == U0 must not be discarded in futures mode")
	assert.False(t, res.ResyncRequested)
	assert.Equal(t, uint64(5), r.State().LastUpdateID)
}

func TestReconciler_NoBridgingDeltaRequestsGapResync(t *testing.T) {
	r := NewReconciler(ChainFirstLast)
	r.BufferDelta(PendingDelta{FirstUpdateID: 10, LastUpdateID: 12, EventTs: 1})

	res := r.ApplySnapshot(nil, nil, 1)
	assert.True(t, res.ResyncRequested)
	assert.Equal(t, "gap", res.ResyncReason)
	assert.Equal(t, ingestmodel.BookResyncing, r.State().Status)
	assert.True(t, r.State().SequenceBroken)
}

func TestReconciler_WaitsForMoreWhenBridgeNotYetBuffered(t *testing.T) {
	r := NewReconciler(ChainPrevUpdateID)
	// Anchor u0=100; earliest surviving delta starts exactly at u0+1 but
	// its own anchor predicate (FirstUpdateID<=u0) doesn't match — this is
	// not yet a confirmed gap (buffer[0].FirstUpdateID is not > u0+1), so
	// the reconciler should wait for more buffered deltas rather than
	// declaring a gap resync.
	r.BufferDelta(PendingDelta{FirstUpdateID: 101, LastUpdateID: 105, PrevUpdateID: u64(100)})

	res := r.ApplySnapshot(nil, nil, 100)
	assert.False(t, res.EmitSnapshot)
	assert.False(t, res.ResyncRequested)
}

// A chain violation trips resync, sets sequenceBroken, and empties state.
func TestReconciler_ChainViolationTriggersOutOfOrderResync(t *testing.T) {
	r := NewReconciler(ChainFirstLast)
	r.BufferDelta(PendingDelta{FirstUpdateID: 1, LastUpdateID: 1, EventTs: 1})
	res := r.ApplySnapshot(nil, nil, 0)
	require.True(t, res.EmitSnapshot)

	// state.LastUpdateID == 1, next delta should start at 2 but starts at 5.
	bad := r.ApplyDelta(PendingDelta{FirstUpdateID: 5, LastUpdateID: 6, EventTs: 2})
	assert.True(t, bad.ResyncRequested)
	assert.Equal(t, "out_of_order", bad.ResyncReason)
	assert.Equal(t, ingestmodel.BookResyncing, r.State().Status)
	assert.True(t, r.State().SequenceBroken)
	assert.Equal(t, ingestmodel.SnapshotAbsent, r.State().Snapshot)
}

func TestReconciler_ContiguousChainAppliesCleanly(t *testing.T) {
	r := NewReconciler(ChainFirstLast)
	r.BufferDelta(PendingDelta{FirstUpdateID: 1, LastUpdateID: 1, EventTs: 1})
	r.ApplySnapshot(nil, nil, 0)

	ok := r.ApplyDelta(PendingDelta{FirstUpdateID: 2, LastUpdateID: 2, EventTs: 2,
		Bids: []ingestmodel.PriceLevel{{Price: 100, Size: 2}}})
	assert.False(t, ok.ResyncRequested)
	assert.Equal(t, uint64(2), r.State().LastUpdateID)

	ok2 := r.ApplyDelta(PendingDelta{FirstUpdateID: 3, LastUpdateID: 3, EventTs: 3,
		Bids: []ingestmodel.PriceLevel{{Price: 100, Size: 0}}})
	assert.False(t, ok2.ResyncRequested)
	_, present := r.State().Bids[100]
	assert.False(t, present, "size 0 deletes the level")
}

func TestReconciler_BinanceFuturesChainsOnPrevUpdateID(t *testing.T) {
	r := NewReconciler(ChainPrevUpdateID)
	r.ApplySnapshot(nil, nil, 100)

	ok := r.ApplyDelta(PendingDelta{FirstUpdateID: 95, LastUpdateID: 105, PrevUpdateID: u64(100)})
	assert.False(t, ok.ResyncRequested)
	assert.Equal(t, uint64(105), r.State().LastUpdateID)

	// PrevUpdateID doesn't match the new LastUpdateID of 105.
	bad := r.ApplyDelta(PendingDelta{FirstUpdateID: 106, LastUpdateID: 110, PrevUpdateID: u64(104)})
	assert.True(t, bad.ResyncRequested)
	assert.Equal(t, "out_of_order", bad.ResyncReason)
}

func TestReconciler_DeltasBeforeSnapshotAreBufferedNotApplied(t *testing.T) {
	r := NewReconciler(ChainFirstLast)
	res := r.ApplyDelta(PendingDelta{FirstUpdateID: 1, LastUpdateID: 1})
	assert.False(t, res.ResyncRequested)
	assert.False(t, res.EmitSnapshot)
	assert.Equal(t, ingestmodel.SnapshotAbsent, r.State().Snapshot)
}

func TestReconciler_OnDisconnectResetsBookAndBuffer(t *testing.T) {
	r := NewReconciler(ChainFirstLast)
	r.ApplySnapshot(nil, nil, 0)
	r.ApplyDelta(PendingDelta{FirstUpdateID: 1, LastUpdateID: 1,
		Bids: []ingestmodel.PriceLevel{{Price: 100, Size: 1}}})

	r.OnDisconnect()

	assert.Equal(t, ingestmodel.SnapshotAbsent, r.State().Snapshot)
	assert.Equal(t, ingestmodel.BookResyncing, r.State().Status)
	assert.True(t, r.State().SequenceBroken)
	assert.Empty(t, r.State().Bids)
}

func TestReconciler_SortsBufferedDeltasBeforeBridging(t *testing.T) {
	r := NewReconciler(ChainFirstLast)
	// Deltas buffered out of order; ApplySnapshot must sort by
	// (firstUpdateId, lastUpdateId, eventTs) before bridging.
	r.BufferDelta(PendingDelta{FirstUpdateID: 2, LastUpdateID: 2, EventTs: 3,
		Bids: []ingestmodel.PriceLevel{{Price: 102, Size: 1}}})
	r.BufferDelta(PendingDelta{FirstUpdateID: 1, LastUpdateID: 1, EventTs: 2,
		Bids: []ingestmodel.PriceLevel{{Price: 101, Size: 1}}})

	res := r.ApplySnapshot(nil, nil, 0)
	require.True(t, res.EmitSnapshot)
	assert.Equal(t, uint64(2), r.State().LastUpdateID)
	assert.Equal(t, 1.0, r.State().Bids[101])
	assert.Equal(t, 1.0, r.State().Bids[102])
}
