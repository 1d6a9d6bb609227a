// Package venue implements VenueClient: the per-venue, per-connection
// lifecycle FSM, subscription reconciliation, and order-book resync logic.
// Each venue client owns its own transport (gorilla/websocket, or the
// go-binance SDK for Binance) and dispatches messages to per-topic handler
// functions; the lifecycle, backoff and subscription state they share
// lives in Base.
package venue

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// ReconnectPolicy implements reconnection policy: attempt N
// yields delay min(maxMs, base*2^(N-1)), bumped to at least 5s on
// rate-limit close codes, plus up to 20% deterministic jitter.
type ReconnectPolicy struct {
	BaseMs  int64
	MaxMs   int64
	Seed    string
}

// rateLimitCloseCodes are WS close codes that indicate the venue is
// actively rate-limiting the connection (Binance's 1008 "Policy Violation").
var rateLimitCloseCodes = map[int]bool{1008: true}

// Delay returns the reconnect delay for attempt N (1-indexed), optionally
// bumped for a rate-limit close code.
func (p ReconnectPolicy) Delay(attempt int, closeCode int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.BaseMs) * math.Pow(2, float64(attempt-1))
	delayMs := math.Min(float64(p.MaxMs), base)

	if rateLimitCloseCodes[closeCode] {
		delayMs = math.Max(delayMs, 5_000)
	}

	jitterFrac := deterministicJitterFraction(p.Seed, attempt)
	delayMs += delayMs * 0.20 * jitterFrac

	return time.Duration(delayMs) * time.Millisecond
}

// deterministicJitterFraction derives a value in [0, 1) from
// keccak256(seed || attempt), giving reconnect jitter that is reproducible
// across runs (and therefore across replay) for a fixed seed and attempt
// count, instead of depending on a non-deterministic RNG.
func deterministicJitterFraction(seed string, attempt int) float64 {
	buf := make([]byte, len(seed)+8)
	copy(buf, seed)
	binary.BigEndian.PutUint64(buf[len(seed):], uint64(attempt))

	digest := crypto.Keccak256(buf)
	// Use the leading 8 bytes as an unsigned integer, normalised to [0, 1).
	v := binary.BigEndian.Uint64(digest[:8])
	return float64(v) / float64(math.MaxUint64)
}

// BackoffState tracks reconnect attempts for one connection. REST poller
// backoff is computed separately by PollBackoff.
type BackoffState struct {
	Attempts      int
	LastOpenAt    time.Time
	policy        ReconnectPolicy
}

// NewBackoffState constructs a BackoffState under the given policy.
func NewBackoffState(policy ReconnectPolicy) *BackoffState {
	return &BackoffState{policy: policy}
}

// NextDelay returns the delay for the next reconnect attempt and
// increments the attempt counter.
func (b *BackoffState) NextDelay(closeCode int) time.Duration {
	b.Attempts++
	return b.policy.Delay(b.Attempts, closeCode)
}

// NoteOpen records that the connection reached the open state at now;
// ResetIfStable should be called periodically afterward.
func (b *BackoffState) NoteOpen(now time.Time) {
	b.LastOpenAt = now
}

// ResetIfStable resets the attempt counter to zero once the connection has
// been open for at least backoffResetMs
func (b *BackoffState) ResetIfStable(now time.Time, backoffResetMs int64) {
	if b.LastOpenAt.IsZero() {
		return
	}
	if now.Sub(b.LastOpenAt) >= time.Duration(backoffResetMs)*time.Millisecond {
		b.Attempts = 0
	}
}

// PollBackoff implements the REST poller backoff:
// backoffMs = min(300s, baseInterval*2^min(6,failures)), with <=10% jitter.
type PollBackoff struct {
	BaseMs int64
	Seed   string
}

// Delay returns the backoff delay after the given number of consecutive
// failures (0 means no failures yet => base interval, no jitter applied by
// convention on the zero-failure case since there's nothing to back off).
func (p PollBackoff) Delay(failures int) time.Duration {
	exp := failures
	if exp > 6 {
		exp = 6
	}
	delayMs := math.Min(300_000, float64(p.BaseMs)*math.Pow(2, float64(exp)))
	if failures > 0 {
		jitterFrac := deterministicJitterFraction(p.Seed, failures)
		delayMs += delayMs * 0.10 * jitterFrac
	}
	return time.Duration(delayMs) * time.Millisecond
}
