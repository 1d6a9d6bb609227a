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

const hyperliquidWSURL = "wss://api.hyperliquid.xyz/ws"

// hyperliquidFrame mirrors the WS push shape: {"channel":"...","data":...}.
type hyperliquidFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type hyperliquidSubscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	Interval string `json:"interval,omitempty"`
}

type hyperliquidSubscribeMsg struct {
	Method       string                   `json:"method"`
	Subscription hyperliquidSubscription  `json:"subscription"`
}

// HyperliquidClient is a narrower VenueClient than Binance/OKX/Bybit: only
// trades, candles and the
// allMids-derived ticker are wired. There is no order-book delta feed and
// no discrete funding poll. It dials gorilla/websocket directly, the same
// way OKXClient and BybitClient do.
type HyperliquidClient struct {
	*Base

	writeMu sync.Mutex
	conn    *websocket.Conn

	handlersMu sync.Mutex
	handlers   map[SubscriptionKey]func(data json.RawMessage)

	midsMu      sync.Mutex
	midsSymbols map[string]string // coin -> canonical symbol
}

// NewHyperliquidClient constructs a HyperliquidClient.
func NewHyperliquidClient(bus *eventbus.Bus, c clock.Clock, reconnect ReconnectPolicy) *HyperliquidClient {
	cli := &HyperliquidClient{
		handlers:    make(map[SubscriptionKey]func(json.RawMessage)),
		midsSymbols: make(map[string]string),
	}
	cli.Base = NewBase(ingestmodel.VenueHyperliquid, bus, c, reconnect, cli.flush)
	return cli
}

func (c *HyperliquidClient) streamID() ingestmodel.StreamID { return "hyperliquid.public.perp" }

func (c *HyperliquidClient) Connect(ctx context.Context) error {
	if _, ok := c.TransitionConnecting(); !ok {
		return fmt.Errorf("hyperliquid: already connecting or open")
	}
	if err := c.dial(); err != nil {
		return err
	}
	c.TransitionOpen()
	return nil
}

func (c *HyperliquidClient) Disconnect() error {
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

func (c *HyperliquidClient) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(hyperliquidWSURL, nil)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	go c.readLoop(conn)
	return nil
}

func (c *HyperliquidClient) reconnect() {
	if err := c.dial(); err != nil {
		c.ScheduleReconnect(0, c.reconnect)
		return
	}
	c.TransitionOpen()
}

func (c *HyperliquidClient) readLoop(conn *websocket.Conn) {
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
		var frame hyperliquidFrame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Channel == "" {
			continue
		}
		c.handlersMu.Lock()
		handler, ok := c.handlers[SubscriptionKey(frame.Channel)]
		c.handlersMu.Unlock()
		if ok {
			handler(frame.Data)
		}
	}
}

// flush subscribes one channel at a time: Hyperliquid's subscribe frame
// names a single {type, coin[, interval]} subscription per message, unlike
// OKX/Bybit's batched args arrays.
func (c *HyperliquidClient) flush(diff []SubscriptionKey) error {
	for _, key := range diff {
		parts := strings.SplitN(string(key), "|", 3)
		sub := hyperliquidSubscription{Type: parts[0]}
		if len(parts) > 1 {
			sub.Coin = parts[1]
		}
		if len(parts) > 2 {
			sub.Interval = parts[2]
		}
		if err := c.sendJSON(hyperliquidSubscribeMsg{Method: "subscribe", Subscription: sub}); err != nil {
			return err
		}
	}
	return nil
}

func (c *HyperliquidClient) sendJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("hyperliquid: not connected")
	}
	return c.conn.WriteJSON(v)
}

// toHyperliquidCoin strips a trailing USDT/USDC/USD quote suffix, the
// reverse of the symbol mapper's job: Hyperliquid subscribes by bare coin
// ("BTC"), not a quoted pair.
func toHyperliquidCoin(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)]
		}
	}
	return s
}

func (c *HyperliquidClient) registerHandler(key SubscriptionKey, handler func(data json.RawMessage)) {
	c.handlersMu.Lock()
	c.handlers[key] = handler
	c.handlersMu.Unlock()
	c.Subs.Want(key)
}

func (c *HyperliquidClient) meta(tsEvent int64) ingestmodel.EventMeta {
	return ingestmodel.EventMeta{
		TsEvent:  tsEvent,
		TsIngest: c.Clock.NowMs(),
		Source:   string(c.Venue),
		StreamID: c.streamID(),
	}
}

func (c *HyperliquidClient) SubscribeTrades(symbol string) error {
	coin := toHyperliquidCoin(symbol)
	key := SubscriptionKey("trades|" + coin)
	c.registerHandler(key, func(data json.RawMessage) {
		var wires []adapters.HyperliquidTradeWire
		if err := json.Unmarshal(data, &wires); err != nil {
			return
		}
		for _, w := range wires {
			env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(w.Time))
			c.Bus.Publish(eventbus.TopicTradeRaw, adapters.HyperliquidTradeRaw(w, env))
		}
	})
	return nil
}

func (c *HyperliquidClient) SubscribeKlines(symbol, interval string) error {
	coin := toHyperliquidCoin(symbol)
	key := SubscriptionKey("candle|" + coin + "|" + interval)
	c.registerHandler(key, func(data json.RawMessage) {
		var w adapters.HyperliquidCandleWire
		if err := json.Unmarshal(data, &w); err != nil {
			return
		}
		if w.EndTime > c.Clock.NowMs() {
			return
		}
		env := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, c.streamID(), c.meta(w.EndTime))
		c.Bus.Publish(eventbus.TopicKlineRaw, adapters.HyperliquidKlineRaw(w, env))
	})
	return nil
}

// SubscribeTicker subscribes to the shared allMids channel. Hyperliquid
// pushes every coin's mid in one frame, so all symbols fan out from a
// single registered handler instead of one handler per symbol; funding is
// folded into this context and, per the narrower Hyperliquid integration,
// is not emitted here.
func (c *HyperliquidClient) SubscribeTicker(symbol string) error {
	coin := toHyperliquidCoin(symbol)
	c.midsMu.Lock()
	c.midsSymbols[coin] = symbol
	c.midsMu.Unlock()

	key := SubscriptionKey("allMids|")
	c.handlersMu.Lock()
	_, alreadySubscribed := c.handlers[key]
	c.handlersMu.Unlock()
	if alreadySubscribed {
		return nil
	}
	c.registerHandler(key, func(data json.RawMessage) {
		var payload struct {
			Mids map[string]string `json:"mids"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return
		}
		c.midsMu.Lock()
		symbols := make(map[string]string, len(c.midsSymbols))
		for k, v := range c.midsSymbols {
			symbols[k] = v
		}
		c.midsMu.Unlock()
		for coin, mid := range payload.Mids {
			sym, ok := symbols[coin]
			if !ok {
				continue
			}
			env := ingestmodel.NewEnvelope(sym, ingestmodel.MarketFutures, c.streamID(), c.meta(c.Clock.NowMs()))
			c.Bus.Publish(eventbus.TopicTickerRaw, adapters.HyperliquidTickerRaw(adapters.HyperliquidMidWire{Coin: coin, Mid: mid}, env))
		}
	})
	return nil
}

// SubscribeOrderbook is a no-op: the Hyperliquid integration does not wire
// its book channel into the liquidity aggregator in this revision.
func (c *HyperliquidClient) SubscribeOrderbook(symbol string) error { return nil }

// SubscribeLiquidations is a no-op: Hyperliquid is not a liquidation source
// in this integration.
func (c *HyperliquidClient) SubscribeLiquidations(symbol string) error { return nil }
