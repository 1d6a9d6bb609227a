package poller

import (
	"context"

	binancefutures "github.com/adshao/go-binance/v2/futures"

	"github.com/aspenmd/ingestd/adapters"
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
)

// BinanceOIPoller polls GET /fapi/v1/openInterest — Binance futures has no
// WS open-interest push, so this is the only source for it.
type BinanceOIPoller struct {
	client   *binancefutures.Client
	bus      *eventbus.Bus
	clk      clock.Clock
	streamID ingestmodel.StreamID
}

// NewBinanceOIPoller constructs a poller sharing nothing with the
// streaming BinanceClient beyond the venue identity — REST polling is a
// distinct concern from WS subscription management.
func NewBinanceOIPoller(client *binancefutures.Client, bus *eventbus.Bus, clk clock.Clock) *BinanceOIPoller {
	return &BinanceOIPoller{client: client, bus: bus, clk: clk, streamID: "binance.futures"}
}

func (p *BinanceOIPoller) Poll(ctx context.Context, symbol string) error {
	res, err := p.client.NewOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return err
	}
	env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, p.streamID, ingestmodel.EventMeta{
		TsEvent:  p.clk.NowMs(),
		TsIngest: p.clk.NowMs(),
		Source:   string(ingestmodel.VenueBinance),
		StreamID: p.streamID,
	})
	p.bus.Publish(eventbus.TopicOIRaw, adapters.BinanceOIRaw(adapters.BinanceOIWire{
		Symbol:       res.Symbol,
		OpenInterest: res.OpenInterest,
		Time:         res.Time,
	}, env))
	return nil
}
