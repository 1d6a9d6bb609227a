package venue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	binancefutures "github.com/adshao/go-binance/v2/futures"
	"github.com/aspenmd/ingestd/adapters"
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
)

// BinanceClient is the futures VenueClient, implemented directly on top of
// adshao/go-binance/v2's futures WS streaming helpers rather than a raw
// gorilla/websocket dial — the SDK already owns the per-stream framing the
// teacher's hand-rolled WSClient had to parse itself.
type BinanceClient struct {
	*Base

	restClient *binancefutures.Client

	mu       sync.Mutex
	stopFns  []func()
	symbols  map[string]bool
}

// NewBinanceClient constructs a BinanceClient. apiKey/secret may be empty —
// every stream this module consumes is public market data.
func NewBinanceClient(bus *eventbus.Bus, c clock.Clock, policy ReconnectPolicy, apiKey, apiSecret string) *BinanceClient {
	cli := &BinanceClient{
		restClient: binancefutures.NewClient(apiKey, apiSecret),
		symbols:    make(map[string]bool),
	}
	cli.Base = NewBase(ingestmodel.VenueBinance, bus, c, policy, cli.flush)
	return cli
}

func (c *BinanceClient) streamID() ingestmodel.StreamID { return "binance.futures" }

// flush is a no-op for Binance: each subscribeX call opens its own
// dedicated SDK stream rather than sending incremental SUBSCRIBE frames
// over one shared socket, since the futures SDK's Serve* helpers each
// manage their own connection.
func (c *BinanceClient) flush(diff []SubscriptionKey) error { return nil }

// Connect marks the connection open. The futures streaming SDK dials lazily
// per subscription, so there is no persistent handshake to perform here
// beyond the lifecycle transition.
func (c *BinanceClient) Connect(ctx context.Context) error {
	if _, ok := c.TransitionConnecting(); !ok {
		return fmt.Errorf("binance: already connecting or open")
	}
	c.TransitionOpen()
	return nil
}

// Disconnect stops every open stream and resets order-book state.
func (c *BinanceClient) Disconnect() error {
	c.TransitionClosing()
	c.mu.Lock()
	fns := c.stopFns
	c.stopFns = nil
	c.mu.Unlock()
	for _, stop := range fns {
		stop()
	}
	c.PublishDisconnected()
	c.TransitionIdle()
	return nil
}

func (c *BinanceClient) addStop(stop func()) {
	c.mu.Lock()
	c.stopFns = append(c.stopFns, stop)
	c.mu.Unlock()
}

func (c *BinanceClient) reconnectStream(closeCode int, restart func()) {
	c.ScheduleReconnect(closeCode, restart)
}

func (c *BinanceClient) SubscribeTrades(symbol string) error {
	start := func() {
		handler := func(event *binancefutures.WsAggTradeEvent) {
			meta := ingestmodel.EventMeta{
				TsEvent:  event.Time,
				TsIngest: c.Clock.NowMs(),
				Source:   string(c.Venue),
				StreamID: c.streamID(),
			}
			wire := adapters.BinanceTradeWire{
				EventType:    "aggTrade",
				EventTime:    event.Time,
				Symbol:       event.Symbol,
				TradeID:      event.AggTradeID,
				Price:        event.Price,
				Quantity:     event.Quantity,
				TradeTime:    event.Time,
				IsBuyerMaker: event.Maker,
			}
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), meta)
			raw := adapters.BinanceTradeRaw(wire, env)
			c.Bus.Publish(eventbus.TopicTradeRaw, raw)
		}
		errHandler := func(err error) {}
		doneC, stopC, err := binancefutures.WsAggTradeServe(symbol, handler, errHandler)
		if err != nil {
			c.reconnectStream(0, start)
			return
		}
		c.addStop(func() { close(stopC) })
		go func() {
			<-doneC
			if !c.IsDisconnecting() {
				c.reconnectStream(0, start)
			}
		}()
	}
	start()
	return nil
}

func (c *BinanceClient) SubscribeKlines(symbol, interval string) error {
	start := func() {
		handler := func(event *binancefutures.WsKlineEvent) {
			if !event.Kline.IsFinal {
				return
			}
			wire := adapters.BinanceKlineWire{
				StartTime: event.Kline.StartTime,
				CloseTime: event.Kline.EndTime,
				Symbol:    event.Symbol,
				Interval:  event.Kline.Interval,
				Open:      event.Kline.Open,
				Close:     event.Kline.Close,
				High:      event.Kline.High,
				Low:       event.Kline.Low,
				Volume:    event.Kline.Volume,
				IsFinal:   event.Kline.IsFinal,
			}
			meta := ingestmodel.EventMeta{
				TsEvent:  event.Kline.EndTime,
				TsIngest: c.Clock.NowMs(),
				Source:   string(c.Venue),
				StreamID: c.streamID(),
			}
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), meta)
			raw := adapters.BinanceKlineRaw(wire, env)
			c.Bus.Publish(eventbus.TopicKlineRaw, raw)
		}
		errHandler := func(err error) {}
		doneC, stopC, err := binancefutures.WsKlineServe(symbol, interval, handler, errHandler)
		if err != nil {
			c.reconnectStream(0, start)
			return
		}
		c.addStop(func() { close(stopC) })
		go func() {
			<-doneC
			if !c.IsDisconnecting() {
				c.reconnectStream(0, start)
			}
		}()
	}
	start()
	return nil
}

func (c *BinanceClient) SubscribeTicker(symbol string) error {
	start := func() {
		handler := func(event *binancefutures.WsMarkPriceEvent) {
			wire := adapters.BinanceMarkPriceWire{
				EventTime:   event.Time,
				Symbol:      event.Symbol,
				MarkPrice:   event.MarkPrice,
				IndexPrice:  event.IndexPrice,
				FundingRate: event.FundingRate,
				NextFunding: event.NextFundingTime,
			}
			meta := ingestmodel.EventMeta{
				TsEvent:  event.Time,
				TsIngest: c.Clock.NowMs(),
				Source:   string(c.Venue),
				StreamID: c.streamID(),
			}
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), meta)
			c.Bus.Publish(eventbus.TopicTickerRaw, adapters.BinanceTickerRaw(wire, env))
			c.Bus.Publish(eventbus.TopicFundingRaw, adapters.BinanceFundingRaw(wire, env))
		}
		errHandler := func(err error) {}
		doneC, stopC, err := binancefutures.WsMarkPriceServe(symbol, handler, errHandler)
		if err != nil {
			c.reconnectStream(0, start)
			return
		}
		c.addStop(func() { close(stopC) })
		go func() {
			<-doneC
			if !c.IsDisconnecting() {
				c.reconnectStream(0, start)
			}
		}()
	}
	start()
	return nil
}

func (c *BinanceClient) SubscribeLiquidations(symbol string) error {
	start := func() {
		handler := func(event *binancefutures.WsLiquidationOrderEvent) {
			o := event.LiquidationOrder
			wire := adapters.BinanceLiquidationWire{
				Symbol:         o.Symbol,
				Side:           string(o.Side),
				Price:          o.Price,
				OrigQuantity:   o.OrigQuantity,
				OrderTradeTime: o.TradeTime,
			}
			meta := ingestmodel.EventMeta{
				TsEvent:  o.TradeTime,
				TsIngest: c.Clock.NowMs(),
				Source:   string(c.Venue),
				StreamID: c.streamID(),
			}
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), meta)
			c.Bus.Publish(eventbus.TopicLiquidationRaw, adapters.BinanceLiquidationRaw(wire, env))
		}
		errHandler := func(err error) {}
		doneC, stopC, err := binancefutures.WsLiquidationOrderServe(symbol, handler, errHandler)
		if err != nil {
			c.reconnectStream(0, start)
			return
		}
		c.addStop(func() { close(stopC) })
		go func() {
			<-doneC
			if !c.IsDisconnecting() {
				c.reconnectStream(0, start)
			}
		}()
	}
	start()
	return nil
}

func (c *BinanceClient) SubscribeOrderbook(symbol string) error {
	reconciler := c.ReconcilerFor(symbol, ChainPrevUpdateID)

	envelopeAt := func(ts int64) ingestmodel.Envelope {
		meta := ingestmodel.EventMeta{
			TsEvent:  ts,
			TsIngest: c.Clock.NowMs(),
			Source:   string(c.Venue),
			StreamID: c.streamID(),
		}
		return ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), meta)
	}

	fetchSnapshot := func() {
		ctx := context.Background()
		depth, err := c.restClient.NewDepthService().Symbol(symbol).Do(ctx)
		if err != nil {
			return
		}
		bids := levelsFromBids(depth.Bids)
		asks := levelsFromAsks(depth.Asks)
		u0 := uint64(depth.LastUpdateID)
		env := envelopeAt(c.Clock.NowMs())
		c.Bus.Publish(eventbus.TopicOrderbookSnapshotRaw, adapters.BinanceSnapshotRaw(
			adapters.BinanceDepthSnapshotWire{LastUpdateID: u0, Bids: toDepthLevelWire(depth.Bids), Asks: toAskLevelWire(depth.Asks)}, env))
		res := reconciler.ApplySnapshot(bids, asks, u0)
		if res.ResyncRequested {
			c.RequestResync(symbol, c.streamID(), res.ResyncReason)
			return
		}
		c.Bus.Publish(eventbus.TopicOrderbookSnapshot, ingestmodel.OrderbookL2Snapshot{
			Envelope: env, Bids: bids, Asks: asks, UpdateID: u0,
		})
	}

	start := func() {
		fetchSnapshot()
		handler := func(event *binancefutures.WsDepthEvent) {
			prev := uint64(event.PrevLastUpdateID)
			bids := levelsFromBids(event.Bids)
			asks := levelsFromAsks(event.Asks)
			env := envelopeAt(event.Time)
			c.Bus.Publish(eventbus.TopicOrderbookDeltaRaw, adapters.BinanceDeltaRaw(
				adapters.BinanceDepthUpdateWire{
					EventTime: event.Time, Symbol: event.Symbol,
					FirstUpdateID: uint64(event.FirstUpdateID), LastUpdateID: uint64(event.LastUpdateID),
					PrevUpdateID: &prev,
					Bids:         toDepthLevelWire(event.Bids), Asks: toAskLevelWire(event.Asks),
				}, env))
			d := PendingDelta{
				FirstUpdateID: uint64(event.FirstUpdateID),
				LastUpdateID:  uint64(event.LastUpdateID),
				PrevUpdateID:  &prev,
				EventTs:       event.Time,
				Bids:          bids,
				Asks:          asks,
			}
			res := reconciler.ApplyDelta(d)
			if res.ResyncRequested {
				c.RequestResync(symbol, c.streamID(), res.ResyncReason)
				fetchSnapshot()
				return
			}
			c.Bus.Publish(eventbus.TopicOrderbookDelta, ingestmodel.OrderbookL2Delta{
				Envelope: env, Bids: bids, Asks: asks,
				FirstUpdateID: uint64(event.FirstUpdateID), LastUpdateID: uint64(event.LastUpdateID),
				PrevUpdateID: &prev,
			})
		}
		errHandler := func(err error) {}
		doneC, stopC, err := binancefutures.WsDiffDepthServe(symbol, handler, errHandler)
		if err != nil {
			c.reconnectStream(0, start)
			return
		}
		c.addStop(func() { close(stopC) })
		go func() {
			<-doneC
			if !c.IsDisconnecting() {
				c.reconnectStream(0, start)
			}
		}()
	}
	start()
	return nil
}

func toDepthLevelWire(in []binancefutures.Bid) []adapters.BinanceDepthLevelWire {
	out := make([]adapters.BinanceDepthLevelWire, len(in))
	for i, l := range in {
		out[i] = adapters.BinanceDepthLevelWire{Price: l.Price, Size: l.Quantity}
	}
	return out
}

func toAskLevelWire(in []binancefutures.Ask) []adapters.BinanceDepthLevelWire {
	out := make([]adapters.BinanceDepthLevelWire, len(in))
	for i, l := range in {
		out[i] = adapters.BinanceDepthLevelWire{Price: l.Price, Size: l.Quantity}
	}
	return out
}

func levelsFromBids(in []binancefutures.Bid) []ingestmodel.PriceLevel {
	out := make([]ingestmodel.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		q, _ := strconv.ParseFloat(lvl.Quantity, 64)
		out = append(out, ingestmodel.PriceLevel{Price: p, Size: q})
	}
	return out
}

func levelsFromAsks(in []binancefutures.Ask) []ingestmodel.PriceLevel {
	out := make([]ingestmodel.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		q, _ := strconv.ParseFloat(lvl.Quantity, 64)
		out = append(out, ingestmodel.PriceLevel{Price: p, Size: q})
	}
	return out
}

// NormalizeBinanceInterval maps the common interval token set onto the
// futures SDK's expected string form (they're already identical except for
// casing quirks some callers pass through).
func NormalizeBinanceInterval(interval string) string {
	return strings.ToLower(interval)
}
