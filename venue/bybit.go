package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aspenmd/ingestd/adapters"
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
)

const bybitPublicLinearWSURL = "wss://stream.bybit.com/v5/public/linear"

// bybitFrame is a Bybit v5 public-channel push: {"topic":"...","type":
// "snapshot"|"delta","ts":...,"data":...}.
type bybitFrame struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type bybitSubscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// BybitClient is the Bybit v5 linear-perpetual VenueClient, built directly
// on gorilla/websocket the same way OKXClient is: one socket multiplexes
// every subscribed topic, tagged per push.
type BybitClient struct {
	*Base

	writeMu sync.Mutex
	conn    *websocket.Conn

	handlersMu sync.Mutex
	handlers   map[SubscriptionKey]func(msgType string, data json.RawMessage)
}

// NewBybitClient constructs a BybitClient.
func NewBybitClient(bus *eventbus.Bus, c clock.Clock, reconnect ReconnectPolicy) *BybitClient {
	cli := &BybitClient{
		handlers: make(map[SubscriptionKey]func(string, json.RawMessage)),
	}
	cli.Base = NewBase(ingestmodel.VenueBybit, bus, c, reconnect, cli.flush)
	return cli
}

func (c *BybitClient) streamID() ingestmodel.StreamID { return "bybit.public.linear.v5" }

func (c *BybitClient) Connect(ctx context.Context) error {
	if _, ok := c.TransitionConnecting(); !ok {
		return fmt.Errorf("bybit: already connecting or open")
	}
	if err := c.dial(); err != nil {
		return err
	}
	c.TransitionOpen()
	return nil
}

func (c *BybitClient) Disconnect() error {
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

func (c *BybitClient) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(bybitPublicLinearWSURL, nil)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	go c.readLoop(conn)
	return nil
}

func (c *BybitClient) reconnect() {
	if err := c.dial(); err != nil {
		c.ScheduleReconnect(0, c.reconnect)
		return
	}
	c.TransitionOpen()
}

func (c *BybitClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.IsDisconnecting() {
				return
			}
			c.PublishDisconnected()
			c.ScheduleReconnect(0, c.reconnect)
			return
		}
		var frame bybitFrame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Topic == "" {
			continue
		}
		c.dispatch(frame)
	}
}

func (c *BybitClient) dispatch(frame bybitFrame) {
	c.handlersMu.Lock()
	handler, ok := c.handlers[SubscriptionKey(frame.Topic)]
	c.handlersMu.Unlock()
	if !ok {
		return
	}
	handler(frame.Type, frame.Data)
}

func (c *BybitClient) flush(diff []SubscriptionKey) error {
	if len(diff) == 0 {
		return nil
	}
	args := make([]string, len(diff))
	for i, k := range diff {
		args[i] = string(k)
	}
	return c.sendJSON(bybitSubscribeMsg{Op: "subscribe", Args: args})
}

func (c *BybitClient) sendJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("bybit: not connected")
	}
	return c.conn.WriteJSON(v)
}

func (c *BybitClient) registerHandler(topic string, handler func(msgType string, data json.RawMessage)) {
	key := SubscriptionKey(topic)
	c.handlersMu.Lock()
	c.handlers[key] = handler
	c.handlersMu.Unlock()
	c.Subs.Want(key)
}

func (c *BybitClient) meta(tsEvent int64) ingestmodel.EventMeta {
	return ingestmodel.EventMeta{
		TsEvent:  tsEvent,
		TsIngest: c.Clock.NowMs(),
		Source:   string(c.Venue),
		StreamID: c.streamID(),
	}
}

func (c *BybitClient) SubscribeTrades(symbol string) error {
	topic := "publicTrade." + symbol
	c.registerHandler(topic, func(_ string, data json.RawMessage) {
		var wires []adapters.BybitTradeWire
		if err := json.Unmarshal(data, &wires); err != nil {
			return
		}
		for _, w := range wires {
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(w.Ts))
			c.Bus.Publish(eventbus.TopicTradeRaw, adapters.BybitTradeRaw(w, env))
		}
	})
	return nil
}

func (c *BybitClient) SubscribeTicker(symbol string) error {
	topic := "tickers." + symbol
	c.registerHandler(topic, func(_ string, data json.RawMessage) {
		var w adapters.BybitTickerWire
		if err := json.Unmarshal(data, &w); err != nil {
			return
		}
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
		c.Bus.Publish(eventbus.TopicTickerRaw, adapters.BybitTickerRaw(w, env))
		if funding, ok := adapters.BybitFundingRaw(w, env); ok {
			c.Bus.Publish(eventbus.TopicFundingRaw, funding)
		}
	})
	return nil
}

func (c *BybitClient) SubscribeLiquidations(symbol string) error {
	topic := "allLiquidation." + symbol
	c.registerHandler(topic, func(_ string, data json.RawMessage) {
		var wires []adapters.BybitLiquidationWire
		if err := json.Unmarshal(data, &wires); err != nil {
			return
		}
		for _, w := range wires {
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(w.Ts))
			c.Bus.Publish(eventbus.TopicLiquidationRaw, adapters.BybitLiquidationRaw(w, env))
		}
	})
	return nil
}

func (c *BybitClient) SubscribeKlines(symbol, interval string) error {
	topic := "kline." + normalizeBybitInterval(interval) + "." + symbol
	c.registerHandler(topic, func(_ string, data json.RawMessage) {
		var wires []adapters.BybitKlineWire
		if err := json.Unmarshal(data, &wires); err != nil {
			return
		}
		for _, w := range wires {
			if !w.Confirm {
				continue
			}
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(w.End))
			c.Bus.Publish(eventbus.TopicKlineRaw, adapters.BybitKlineRaw(w, env))
		}
	})
	return nil
}

// normalizeBybitInterval maps common interval tokens onto Bybit's numeric
// minute/"D"/"W"/"M" kline topic suffix.
func normalizeBybitInterval(interval string) string {
	switch strings.ToLower(interval) {
	case "1m":
		return "1"
	case "3m":
		return "3"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return interval
	}
}

func (c *BybitClient) SubscribeOrderbook(symbol string) error {
	topic := "orderbook.50." + symbol
	reconciler := c.ReconcilerFor(symbol, ChainFirstLast)
	c.registerHandler(topic, func(msgType string, data json.RawMessage) {
		var w adapters.BybitBookWire
		if err := json.Unmarshal(data, &w); err != nil {
			return
		}
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
		if msgType == "snapshot" {
			raw := adapters.BybitSnapshotRaw(w, env)
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
		raw := adapters.BybitDeltaRaw(w, env)
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
