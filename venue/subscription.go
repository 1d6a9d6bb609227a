package venue

import "sync"

// SubscriptionKey identifies one logical subscription, e.g. "trade:BTCUSDT"
// or "kline:BTCUSDT:1m".
type SubscriptionKey string

// FlushFunc sends one SUBSCRIBE frame carrying the given diff keys. It
// returns an error if the frame could not be sent (e.g. connection down);
// on error the flush is retried on the next trigger rather than losing the
// diff, since the keys remain in desired.
type FlushFunc func(diff []SubscriptionKey) error

// SubscriptionManager tracks desired/pending/active subscription sets and
// coalesces concurrent flush triggers into one follow-up run: Want calls
// mutate desired and trigger a flush;
// Confirm moves keys from pending to active once the venue acknowledges
// them.
type SubscriptionManager struct {
	mu      sync.Mutex
	desired map[SubscriptionKey]struct{}
	pending map[SubscriptionKey]struct{}
	active  map[SubscriptionKey]struct{}

	flush FlushFunc

	flushing     bool
	flushQueued  bool
}

// NewSubscriptionManager constructs an empty manager bound to flush.
func NewSubscriptionManager(flush FlushFunc) *SubscriptionManager {
	return &SubscriptionManager{
		desired: make(map[SubscriptionKey]struct{}),
		pending: make(map[SubscriptionKey]struct{}),
		active:  make(map[SubscriptionKey]struct{}),
		flush:   flush,
	}
}

// Want adds key to desired and triggers a flush.
func (m *SubscriptionManager) Want(key SubscriptionKey) {
	m.mu.Lock()
	m.desired[key] = struct{}{}
	m.mu.Unlock()
	m.triggerFlush()
}

// Reset clears pending and active — called when the connection reopens, so
// every desired subscription is re-sent.
func (m *SubscriptionManager) Reset() {
	m.mu.Lock()
	m.pending = make(map[SubscriptionKey]struct{})
	m.active = make(map[SubscriptionKey]struct{})
	m.mu.Unlock()
	m.triggerFlush()
}

// Confirm moves key from pending into active once the venue has
// acknowledged the subscription.
func (m *SubscriptionManager) Confirm(key SubscriptionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	m.active[key] = struct{}{}
}

// triggerFlush runs the single-flight flush: if a flush is already
// running, it marks a follow-up flush queued rather than starting a
// concurrent one.
func (m *SubscriptionManager) triggerFlush() {
	m.mu.Lock()
	if m.flushing {
		m.flushQueued = true
		m.mu.Unlock()
		return
	}
	m.flushing = true
	m.mu.Unlock()

	m.runFlush()
}

func (m *SubscriptionManager) runFlush() {
	for {
		diff := m.computeDiff()
		if len(diff) > 0 {
			if err := m.flush(diff); err == nil {
				// The venues wired here don't emit a discrete subscribe-ack
				// frame the reader loop can match back to a key, so a
				// successfully sent SUBSCRIBE is promoted straight to active
				// instead of waiting in pending. Confirm remains available
				// for a future venue that does ack individually.
				m.mu.Lock()
				for _, k := range diff {
					m.active[k] = struct{}{}
				}
				m.mu.Unlock()
			}
			// on error, diff stays purely in desired and will be retried by
			// the next flush trigger (e.g. the reconnect-driven Reset).
		}

		m.mu.Lock()
		if m.flushQueued {
			m.flushQueued = false
			m.mu.Unlock()
			continue
		}
		m.flushing = false
		m.mu.Unlock()
		return
	}
}

func (m *SubscriptionManager) computeDiff() []SubscriptionKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	var diff []SubscriptionKey
	for k := range m.desired {
		_, isPending := m.pending[k]
		_, isActive := m.active[k]
		if !isPending && !isActive {
			diff = append(diff, k)
		}
	}
	return diff
}

// Active reports whether key is currently an active subscription.
func (m *SubscriptionManager) Active(key SubscriptionKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[key]
	return ok
}
