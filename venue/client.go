package venue

import (
	"context"
	"sync"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
)

// Lifecycle is the VenueClient connection state
// Transitions are single-writer: only the connection's own reconcile loop
// mutates it.
type Lifecycle int

const (
	StateIdle Lifecycle = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s Lifecycle) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Client is the interface every venue implementation satisfies.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SubscribeTrades(symbol string) error
	SubscribeTicker(symbol string) error
	SubscribeOrderbook(symbol string) error
	SubscribeKlines(symbol, interval string) error
	SubscribeLiquidations(symbol string) error
	IsAlive() bool
}

// Base implements the lifecycle FSM, backoff state and subscription
// manager shared by every venue. It holds no connection itself: each venue
// client embeds it, owns its own socket, and calls the Transition*,
// ScheduleReconnect and PublishDisconnected helpers.
type Base struct {
	Venue ingestmodel.Venue
	Bus   *eventbus.Bus
	Clock clock.Clock

	mu     sync.Mutex
	state  Lifecycle
	cancel context.CancelFunc

	Backoff *BackoffState
	Subs    *SubscriptionManager

	booksMu sync.Mutex
	books   map[string]*Reconciler // key: symbol
}

// NewBase constructs a Base for one venue connection. flush is the
// venue-specific SUBSCRIBE-frame sender wired into the SubscriptionManager.
func NewBase(v ingestmodel.Venue, bus *eventbus.Bus, c clock.Clock, policy ReconnectPolicy, flush FlushFunc) *Base {
	return &Base{
		Venue:   v,
		Bus:     bus,
		Clock:   c,
		state:   StateIdle,
		Backoff: NewBackoffState(policy),
		Subs:    NewSubscriptionManager(flush),
		books:   make(map[string]*Reconciler),
	}
}

// State returns the current lifecycle state.
func (b *Base) State() Lifecycle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TransitionConnecting moves idle/closing -> connecting. Returns false if
// already connecting or open.
func (b *Base) TransitionConnecting() (context.Context, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateConnecting || b.state == StateOpen {
		return nil, false
	}
	b.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	return ctx, true
}

// TransitionOpen moves connecting -> open, records the open time for
// BackoffState.ResetIfStable, and resets the subscription manager
// (triggering a full re-flush). The reconnect attempt counter is left as it
// is; only ResetIfStable clears it.
func (b *Base) TransitionOpen() {
	b.mu.Lock()
	b.state = StateOpen
	b.mu.Unlock()

	b.Backoff.NoteOpen(b.Clock.Now())
	b.Subs.Reset()
}

// TransitionClosing moves to closing and cancels the connection context,
// aborting in-flight requests and clearing reconnect timers.
func (b *Base) TransitionClosing() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosing
	if b.cancel != nil {
		b.cancel()
	}
}

// TransitionIdle moves closing -> idle once teardown completes.
func (b *Base) TransitionIdle() {
	b.mu.Lock()
	b.state = StateIdle
	b.mu.Unlock()
}

// IsDisconnecting reports whether the client is mid-teardown — reconnect
// must not be scheduled while this holds
func (b *Base) IsDisconnecting() bool {
	return b.State() == StateClosing
}

// IsAlive reports whether the connection is in the open state.
func (b *Base) IsAlive() bool {
	return b.State() == StateOpen
}

// ReconcilerFor returns (creating if needed) the order-book Reconciler for
// symbol, in the given chain mode.
func (b *Base) ReconcilerFor(symbol string, mode ChainMode) *Reconciler {
	b.booksMu.Lock()
	defer b.booksMu.Unlock()
	r, ok := b.books[symbol]
	if !ok {
		r = NewReconciler(mode)
		b.books[symbol] = r
	}
	return r
}

// ResetAllBooks resets every tracked order book — called on
// market:disconnected
func (b *Base) ResetAllBooks() {
	b.booksMu.Lock()
	defer b.booksMu.Unlock()
	for _, r := range b.books {
		r.OnDisconnect()
	}
}

// PublishDisconnected resets all order-book state and publishes
// market:disconnected for this connection.
func (b *Base) PublishDisconnected() {
	b.ResetAllBooks()
	b.Bus.Publish(eventbus.TopicDisconnected, string(b.Venue))
}

// ScheduleReconnect computes the next backoff delay and sleeps it on a
// background goroutine before invoking reconnect, unless the client is
// disconnecting. closeCode is 0 when not applicable.
func (b *Base) ScheduleReconnect(closeCode int, reconnect func()) {
	if b.IsDisconnecting() {
		return
	}
	delay := b.Backoff.NextDelay(closeCode)
	go func() {
		b.Clock.Sleep(delay)
		if b.IsDisconnecting() {
			return
		}
		reconnect()
	}()
}

// RequestResync publishes market:resync_requested for symbol with reason.
func (b *Base) RequestResync(symbol string, streamID ingestmodel.StreamID, reason string) {
	b.Bus.Publish(eventbus.TopicResyncRequested, map[string]any{
		"symbol":   symbol,
		"streamId": streamID,
		"reason":   reason,
	})
}
