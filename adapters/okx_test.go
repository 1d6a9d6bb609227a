package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aspenmd/ingestd/ingestmodel"
)

// A trades-channel payload for BTC-USDT-SWAP produces a raw trade carrying
// the exact wire strings and a normalized Buy side.
func TestOKXTradeRaw_MapsTradesChannelPayload(t *testing.T) {
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{
		TsEvent: 1700000000000,
	})
	raw := OKXTradeRaw(OKXTradeWire{
		InstID:  "BTC-USDT-SWAP",
		TradeID: "123",
		Px:      "100",
		Sz:      "1",
		Side:    "buy",
		Ts:      "1700000000000",
	}, env)

	assert.Equal(t, "100", raw.Price, "price kept as exact wire string")
	assert.Equal(t, "1", raw.Size, "size kept as exact wire string")
	assert.Equal(t, ingestmodel.SideBuy, raw.Side)
	assert.Equal(t, "BTCUSDT", raw.Symbol)
	assert.Equal(t, ingestmodel.MarketFutures, raw.MarketType)
}

func TestOKXTradeRaw_NormalizesSellSide(t *testing.T) {
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{})
	raw := OKXTradeRaw(OKXTradeWire{Px: "1", Sz: "1", Side: "s"}, env)
	assert.Equal(t, ingestmodel.SideSell, raw.Side)
}

func TestOKXTradeRaw_UnrecognisedSideIsUnknown(t *testing.T) {
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{})
	raw := OKXTradeRaw(OKXTradeWire{Px: "1", Sz: "1", Side: "bid"}, env)
	assert.Equal(t, ingestmodel.SideUnknown, raw.Side)
}

func TestOKXOIRaw_PrefersBaseUnitOverContracts(t *testing.T) {
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{})
	raw := OKXOIRaw(OKXOIWire{Oi: "1000", OiCcy: "10.5"}, env)
	assert.Equal(t, ingestmodel.OIUnitBase, raw.Unit)
	assert.Equal(t, "10.5", raw.Value)
}

func TestOKXOIRaw_FallsBackToContractsWhenNoCcyField(t *testing.T) {
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{})
	raw := OKXOIRaw(OKXOIWire{Oi: "1000"}, env)
	assert.Equal(t, ingestmodel.OIUnitContracts, raw.Unit)
	assert.Equal(t, "1000", raw.Value)
}

func TestOKXLiquidationRaw_DerivesNotionalFromBankruptcyPrice(t *testing.T) {
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{})
	raw := OKXLiquidationRaw(OKXLiquidationWire{Side: "sell", Px: "100", Sz: "2"}, env)
	assert.Equal(t, ingestmodel.SideSell, raw.Side)
	if assert.NotNil(t, raw.NotionalUsd) {
		assert.Equal(t, "200", *raw.NotionalUsd)
	}
}

func TestOKXDeltaRaw_ChainsOnPrevSeqIDPlusOne(t *testing.T) {
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{})
	raw := OKXDeltaRaw(OKXBookUpdateWire{SeqID: 105, PrevSeqID: 100}, env)
	assert.Equal(t, uint64(101), raw.FirstUpdateID)
	assert.Equal(t, uint64(105), raw.LastUpdateID)
}

func TestOKXSnapshotRaw_UsesSeqIDAsAnchor(t *testing.T) {
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{})
	raw := OKXSnapshotRaw(OKXBookSnapshotWire{
		SeqID: 42,
		Bids:  []OKXDepthLevelWire{{Price: "100", Size: "1"}},
	}, env)
	assert.Equal(t, uint64(42), raw.UpdateID)
	assert.Equal(t, []ingestmodel.PriceLevelRaw{{Price: "100", Size: "1"}}, raw.Bids)
}
