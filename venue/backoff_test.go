package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectPolicy_DelayDoublesPerAttemptUpToMax(t *testing.T) {
	p := ReconnectPolicy{BaseMs: 1000, MaxMs: 30_000, Seed: "s"}

	d1 := p.Delay(1, 0)
	d2 := p.Delay(2, 0)
	d3 := p.Delay(10, 0)

	assert.GreaterOrEqual(t, d1, 1000*time.Millisecond)
	assert.Less(t, d1, 1200*time.Millisecond)
	assert.GreaterOrEqual(t, d2, 2000*time.Millisecond)
	assert.Less(t, d2, 2400*time.Millisecond)
	// attempt 10 would be 2^9*1000=512000ms uncapped, clamped to MaxMs before jitter.
	assert.GreaterOrEqual(t, d3, 30_000*time.Millisecond)
	assert.Less(t, d3, 36_000*time.Millisecond)
}

func TestReconnectPolicy_RateLimitCloseCodeBumpsToAtLeastFiveSeconds(t *testing.T) {
	p := ReconnectPolicy{BaseMs: 100, MaxMs: 30_000, Seed: "s"}
	d := p.Delay(1, 1008)
	assert.GreaterOrEqual(t, d, 5_000*time.Millisecond)
}

func TestReconnectPolicy_NonRateLimitCloseCodeIsNotBumped(t *testing.T) {
	p := ReconnectPolicy{BaseMs: 100, MaxMs: 30_000, Seed: "s"}
	d := p.Delay(1, 1000)
	assert.Less(t, d, 200*time.Millisecond)
}

func TestReconnectPolicy_JitterIsDeterministicForFixedSeedAndAttempt(t *testing.T) {
	p := ReconnectPolicy{BaseMs: 1000, MaxMs: 30_000, Seed: "fixed-seed"}
	assert.Equal(t, p.Delay(3, 0), p.Delay(3, 0))
}

func TestReconnectPolicy_DifferentSeedsProduceDifferentJitter(t *testing.T) {
	a := ReconnectPolicy{BaseMs: 1000, MaxMs: 30_000, Seed: "seed-a"}
	b := ReconnectPolicy{BaseMs: 1000, MaxMs: 30_000, Seed: "seed-b"}
	assert.NotEqual(t, a.Delay(1, 0), b.Delay(1, 0))
}

func TestBackoffState_NextDelayIncrementsAttempts(t *testing.T) {
	b := NewBackoffState(ReconnectPolicy{BaseMs: 1000, MaxMs: 30_000, Seed: "s"})
	assert.Equal(t, 0, b.Attempts)
	b.NextDelay(0)
	assert.Equal(t, 1, b.Attempts)
	b.NextDelay(0)
	assert.Equal(t, 2, b.Attempts)
}

func TestBackoffState_ResetIfStableClearsAttemptsAfterStableWindow(t *testing.T) {
	b := NewBackoffState(ReconnectPolicy{BaseMs: 1000, MaxMs: 30_000, Seed: "s"})
	b.NextDelay(0)
	b.NextDelay(0)
	now := time.UnixMilli(1000)
	b.NoteOpen(now)

	b.ResetIfStable(now.Add(1*time.Second), 10_000)
	assert.Equal(t, 2, b.Attempts, "not stable long enough yet")

	b.ResetIfStable(now.Add(11*time.Second), 10_000)
	assert.Equal(t, 0, b.Attempts)
}

func TestBackoffState_ResetIfStableNoopBeforeFirstOpen(t *testing.T) {
	b := NewBackoffState(ReconnectPolicy{BaseMs: 1000, MaxMs: 30_000, Seed: "s"})
	b.NextDelay(0)
	b.ResetIfStable(time.UnixMilli(999_999_999), 1)
	assert.Equal(t, 1, b.Attempts)
}

func TestPollBackoff_CapsExponentAtSix(t *testing.T) {
	// A tiny base keeps 2^6 well under the 300s ceiling, so if the exponent
	// weren't clamped at 6, failures=20 would blow straight through that
	// ceiling (2^20 * 1ms >> 300s); with the clamp it stays near 2^6ms.
	p := PollBackoff{BaseMs: 1, Seed: "s"}
	d20 := p.Delay(20)
	assert.Less(t, d20, 100*time.Millisecond, "exponent must clamp at 6, not keep growing with failures")
}

func TestPollBackoff_NeverExceedsFiveMinutes(t *testing.T) {
	p := PollBackoff{BaseMs: 1_000_000, Seed: "s"}
	d := p.Delay(6)
	assert.LessOrEqual(t, d, time.Duration(330_000)*time.Millisecond)
}
