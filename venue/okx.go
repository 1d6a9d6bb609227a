package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aspenmd/ingestd/adapters"
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
)

const okxPublicWSURL = "wss://ws.okx.com:8443/ws/v5/public"

// okxFrame is the shape of every OKX public-channel push:
// {arg:{channel,instId,instType?}, data:[...]}, with books pushes also
// carrying action:"snapshot"|"update".
type okxFrame struct {
	Event string          `json:"event"`
	Arg   okxArg          `json:"arg"`
	Action string         `json:"action,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxSubscribeMsg struct {
	Op   string   `json:"op"`
	Args []okxArg `json:"args"`
}

// OKXClient is the OKX public-data VenueClient. Unlike Binance it is built
// directly on gorilla/websocket, dialing and reading a single combined
// stream: OKX multiplexes every subscribed channel over one socket and
// tags each push with its arg, rather than handing out one connection per
// stream the way the futures SDK does.
type OKXClient struct {
	*Base

	policy config.Policy

	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}

	handlersMu sync.Mutex
	handlers   map[SubscriptionKey]func(action string, data json.RawMessage)

	symbolsMu sync.Mutex
	instIDs   map[string]string // instId -> canonical symbol
}

// NewOKXClient constructs an OKXClient.
func NewOKXClient(bus *eventbus.Bus, c clock.Clock, policy config.Policy, reconnect ReconnectPolicy) *OKXClient {
	cli := &OKXClient{
		policy:   policy,
		handlers: make(map[SubscriptionKey]func(string, json.RawMessage)),
		instIDs:  make(map[string]string),
	}
	cli.Base = NewBase(ingestmodel.VenueOKX, bus, c, reconnect, cli.flush)
	return cli
}

func (c *OKXClient) streamID() ingestmodel.StreamID { return "okx.public.swap" }

// Connect dials the public WS endpoint and starts the read loop. ctx is
// accepted to satisfy Client but is not threaded into the dial: teardown
// goes through Disconnect instead.
func (c *OKXClient) Connect(ctx context.Context) error {
	if _, ok := c.TransitionConnecting(); !ok {
		return fmt.Errorf("okx: already connecting or open")
	}
	if err := c.dial(); err != nil {
		return err
	}
	c.TransitionOpen()
	return nil
}

func toOKXInstID(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "-" + quote + "-SWAP"
		}
	}
	return s + "-SWAP"
}

func okxBarDurationMs(interval string) int64 {
	switch strings.ToLower(interval) {
	case "1m":
		return 60_000
	case "3m":
		return 3 * 60_000
	case "5m":
		return 5 * 60_000
	case "15m":
		return 15 * 60_000
	case "30m":
		return 30 * 60_000
	case "1h":
		return 3_600_000
	case "4h":
		return 4 * 3_600_000
	case "1d":
		return 24 * 3_600_000
	default:
		return 60_000
	}
}

func (c *OKXClient) flush(diff []SubscriptionKey) error {
	if len(diff) == 0 {
		return nil
	}
	args := make([]okxArg, 0, len(diff))
	for _, k := range diff {
		parts := strings.SplitN(string(k), "|", 2)
		if len(parts) != 2 {
			continue
		}
		args = append(args, okxArg{Channel: parts[0], InstID: parts[1]})
	}
	if len(args) == 0 {
		return nil
	}
	return c.sendJSON(okxSubscribeMsg{Op: "subscribe", Args: args})
}

func (c *OKXClient) sendJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("okx: not connected")
	}
	return c.conn.WriteJSON(v)
}

func (c *OKXClient) registerHandler(channel, instID string, handler func(action string, data json.RawMessage)) {
	key := SubscriptionKey(channel + "|" + instID)
	c.handlersMu.Lock()
	c.handlers[key] = handler
	c.handlersMu.Unlock()
	c.symbolsMu.Lock()
	c.instIDs[instID] = instID
	c.symbolsMu.Unlock()
	c.Subs.Want(key)
}

func (c *OKXClient) dispatch(frame okxFrame) {
	key := SubscriptionKey(frame.Arg.Channel + "|" + frame.Arg.InstID)
	c.handlersMu.Lock()
	handler, ok := c.handlers[key]
	c.handlersMu.Unlock()
	if !ok {
		return
	}
	handler(frame.Action, frame.Data)
}

func (c *OKXClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.IsDisconnecting() {
				return
			}
			c.PublishDisconnected()
			c.ScheduleReconnect(0, func() { c.reconnect() })
			return
		}
		var frame okxFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Event != "" {
			continue
		}
		c.dispatch(frame)
	}
}

func (c *OKXClient) reconnect() {
	if err := c.dial(); err != nil {
		c.ScheduleReconnect(0, c.reconnect)
		return
	}
	c.TransitionOpen()
}

func (c *OKXClient) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(okxPublicWSURL, nil)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	go c.readLoop(conn)
	return nil
}

func (c *OKXClient) meta(tsEvent int64) ingestmodel.EventMeta {
	return ingestmodel.EventMeta{
		TsEvent:  tsEvent,
		TsIngest: c.Clock.NowMs(),
		Source:   string(c.Venue),
		StreamID: c.streamID(),
	}
}

func (c *OKXClient) SubscribeTrades(symbol string) error {
	instID := toOKXInstID(symbol)
	c.registerHandler("trades", instID, func(_ string, data json.RawMessage) {
		var wires []adapters.OKXTradeWire
		if err := json.Unmarshal(data, &wires); err != nil {
			return
		}
		for _, w := range wires {
			ts := parseOKXTs(w.Ts)
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(ts))
			c.Bus.Publish(eventbus.TopicTradeRaw, adapters.OKXTradeRaw(w, env))
		}
	})
	return nil
}

func (c *OKXClient) SubscribeTicker(symbol string) error {
	instID := toOKXInstID(symbol)
	c.registerHandler("tickers", instID, func(_ string, data json.RawMessage) {
		var wires []adapters.OKXTickerWire
		if err := json.Unmarshal(data, &wires); err != nil || len(wires) == 0 {
			return
		}
		last := wires[0].Last
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
		c.Bus.Publish(eventbus.TopicTickerRaw, adapters.OKXTickerRaw(&last, nil, nil, env))
	})
	c.registerHandler("mark-price", instID, func(_ string, data json.RawMessage) {
		var wires []adapters.OKXMarkPriceWire
		if err := json.Unmarshal(data, &wires); err != nil || len(wires) == 0 {
			return
		}
		mark := wires[0].MarkPx
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
		c.Bus.Publish(eventbus.TopicTickerRaw, adapters.OKXTickerRaw(nil, &mark, nil, env))
	})
	c.registerHandler("index-tickers", instID, func(_ string, data json.RawMessage) {
		var wires []adapters.OKXIndexTickerWire
		if err := json.Unmarshal(data, &wires); err != nil || len(wires) == 0 {
			return
		}
		idx := wires[0].IdxPx
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
		c.Bus.Publish(eventbus.TopicTickerRaw, adapters.OKXTickerRaw(nil, nil, &idx, env))
	})
	c.registerHandler("funding-rate", instID, func(_ string, data json.RawMessage) {
		var wires []adapters.OKXFundingWire
		if err := json.Unmarshal(data, &wires); err != nil || len(wires) == 0 {
			return
		}
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
		c.Bus.Publish(eventbus.TopicFundingRaw, adapters.OKXFundingRaw(wires[0], env))
	})
	c.registerHandler("open-interest", instID, func(_ string, data json.RawMessage) {
		var wires []adapters.OKXOIWire
		if err := json.Unmarshal(data, &wires); err != nil || len(wires) == 0 {
			return
		}
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
		c.Bus.Publish(eventbus.TopicOIRaw, adapters.OKXOIRaw(wires[0], env))
	})
	return nil
}

func (c *OKXClient) SubscribeLiquidations(symbol string) error {
	instID := toOKXInstID(symbol)
	c.registerHandler("liquidation-orders", instID, func(_ string, data json.RawMessage) {
		var events []struct {
			InstID  string                        `json:"instId"`
			Details []adapters.OKXLiquidationWire `json:"details"`
		}
		if err := json.Unmarshal(data, &events); err != nil {
			return
		}
		for _, ev := range events {
			for _, d := range ev.Details {
				env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
				c.Bus.Publish(eventbus.TopicLiquidationRaw, adapters.OKXLiquidationRaw(d, env))
			}
		}
	})
	return nil
}

// SubscribeKlines subscribes to OKX's candle channel only when the policy
// enables it — OKX closed-candle pushes on the public channel are a lower
// priority stream and can be turned off entirely via OKX_ENABLE_KLINES.
func (c *OKXClient) SubscribeKlines(symbol, interval string) error {
	if !c.policy.OKXEnableKlines {
		return nil
	}
	instID := toOKXInstID(symbol)
	channel := "candle" + strings.ToUpper(interval)
	barMs := okxBarDurationMs(interval)
	c.registerHandler(channel, instID, func(_ string, data json.RawMessage) {
		var rows [][]string
		if err := json.Unmarshal(data, &rows); err != nil {
			return
		}
		for _, row := range rows {
			if len(row) < 6 {
				continue
			}
			confirm := "0"
			if len(row) > 8 {
				confirm = row[8]
			}
			if confirm != "1" {
				continue
			}
			wire := adapters.OKXCandleWire{
				Ts: row[0], Open: row[1], High: row[2], Low: row[3], Close: row[4], Vol: row[5],
				Confirm: confirm, Interval: interval,
			}
			open := parseOKXTs(wire.Ts)
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(open))
			c.Bus.Publish(eventbus.TopicKlineRaw, adapters.OKXKlineRaw(wire, barMs, env))
		}
	})
	return nil
}

func (c *OKXClient) SubscribeOrderbook(symbol string) error {
	instID := toOKXInstID(symbol)
	reconciler := c.ReconcilerFor(symbol, ChainFirstLast)
	c.registerHandler("books", instID, func(action string, data json.RawMessage) {
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
		if action == "snapshot" {
			var wires []adapters.OKXBookSnapshotWire
			if err := json.Unmarshal(data, &wires); err != nil || len(wires) == 0 {
				return
			}
			raw := adapters.OKXSnapshotRaw(wires[0], env)
			c.Bus.Publish(eventbus.TopicOrderbookSnapshotRaw, raw)
			bids := fromPriceLevelsRaw(raw.Bids)
			asks := fromPriceLevelsRaw(raw.Asks)
			res := reconciler.ApplySnapshot(bids, asks, raw.UpdateID)
			if res.ResyncRequested {
				c.RequestResync(symbol, c.streamID(), res.ResyncReason)
				return
			}
			c.Bus.Publish(eventbus.TopicOrderbookSnapshot, ingestmodel.OrderbookL2Snapshot{
				Envelope: env, Bids: bids, Asks: asks, UpdateID: raw.UpdateID,
			})
			return
		}
		var wires []adapters.OKXBookUpdateWire
		if err := json.Unmarshal(data, &wires); err != nil || len(wires) == 0 {
			return
		}
		raw := adapters.OKXDeltaRaw(wires[0], env)
		c.Bus.Publish(eventbus.TopicOrderbookDeltaRaw, raw)
		bids := fromPriceLevelsRaw(raw.Bids)
		asks := fromPriceLevelsRaw(raw.Asks)
		d := PendingDelta{
			FirstUpdateID: raw.FirstUpdateID,
			LastUpdateID:  raw.LastUpdateID,
			EventTs:       env.Meta.TsIngest,
			Bids:          bids,
			Asks:          asks,
		}
		res := reconciler.ApplyDelta(d)
		if res.ResyncRequested {
			c.RequestResync(symbol, c.streamID(), res.ResyncReason)
			return
		}
		c.Bus.Publish(eventbus.TopicOrderbookDelta, ingestmodel.OrderbookL2Delta{
			Envelope: env, Bids: bids, Asks: asks,
			FirstUpdateID: raw.FirstUpdateID, LastUpdateID: raw.LastUpdateID,
		})
	})
	return nil
}

// Disconnect tears down the socket and resets book state.
func (c *OKXClient) Disconnect() error {
	c.TransitionClosing()
	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.PublishDisconnected()
	c.TransitionIdle()
	return nil
}

func fromPriceLevelsRaw(in []ingestmodel.PriceLevelRaw) []ingestmodel.PriceLevel {
	out := make([]ingestmodel.PriceLevel, 0, len(in))
	for _, l := range in {
		p, _ := strconv.ParseFloat(l.Price, 64)
		s, _ := strconv.ParseFloat(l.Size, 64)
		out = append(out, ingestmodel.PriceLevel{Price: p, Size: s})
	}
	return out
}

func parseOKXTs(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
