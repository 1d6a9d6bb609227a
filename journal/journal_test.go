package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
)

func newTestTrade(symbol string, streamID ingestmodel.StreamID, tsIngest int64) ingestmodel.Trade {
	return ingestmodel.Trade{
		Envelope: ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, streamID, ingestmodel.EventMeta{
			TsIngest: tsIngest,
			Source:   "binance.futures",
		}),
		Price: 65000.5,
		Size:  0.01,
		Side:  ingestmodel.SideBuy,
	}
}

func readLines(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var recs []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		recs = append(recs, r)
	}
	return recs
}

func TestJournal_WritesAndFlushesOnBatchSize(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))

	j := New(Config{BaseDir: dir, RunID: "run-1", MaxBatchSize: 2, FlushInterval: time.Hour}, bus, clk)
	j.Start()
	defer j.Stop()

	bus.Publish(eventbus.TopicTrade, newTestTrade("BTC-USDT", "binance.futures.BTC-USDT", clk.NowMs()))
	bus.Publish(eventbus.TopicTrade, newTestTrade("BTC-USDT", "binance.futures.BTC-USDT", clk.NowMs()))

	path := filepath.Join(dir, "binance.futures.BTC-USDT", "BTC-USDT", "trade", "run-1", "2026-01-02.jsonl")
	recs := readLines(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint64(2), recs[1].Seq)
	assert.Equal(t, "run-1", recs[0].RunID)
	assert.Equal(t, string(eventbus.TopicTrade), recs[0].Topic)
}

func TestJournal_PeriodicFlushWithoutReachingBatchSize(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))

	j := New(Config{BaseDir: dir, RunID: "run-1", MaxBatchSize: 100, FlushInterval: 20 * time.Millisecond}, bus, clk)
	j.Start()
	defer j.Stop()

	bus.Publish(eventbus.TopicTrade, newTestTrade("ETH-USDT", "binance.futures.ETH-USDT", clk.NowMs()))

	path := filepath.Join(dir, "binance.futures.ETH-USDT", "ETH-USDT", "trade", "run-1", "2026-01-02.jsonl")
	require.Eventually(t, func() bool {
		recs := readLines(t, path)
		return len(recs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestJournal_KlineUsesIntervalSubdirectory(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))

	j := New(Config{BaseDir: dir, RunID: "run-1", MaxBatchSize: 1, FlushInterval: time.Hour}, bus, clk)
	j.Start()
	defer j.Stop()

	kline := ingestmodel.Kline{
		Envelope: ingestmodel.NewEnvelope("BTC-USDT", ingestmodel.MarketFutures, "binance.futures.BTC-USDT", ingestmodel.EventMeta{TsIngest: clk.NowMs()}),
		Interval: "1m",
	}
	bus.Publish(eventbus.TopicKline, kline)

	path := filepath.Join(dir, "binance.futures.BTC-USDT", "BTC-USDT", "kline", "1m", "run-1", "2026-01-02.jsonl")
	recs := readLines(t, path)
	require.Len(t, recs, 1)
}

func TestJournal_IgnoresUnrecognisedPayloads(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Now())

	j := New(Config{BaseDir: dir, RunID: "run-1"}, bus, clk)
	j.Start()
	defer j.Stop()

	bus.Publish(eventbus.TopicDataStale, "not a canonical event")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_MkdirFailureIsHandledWithoutPanic(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Now())

	j := New(Config{BaseDir: dir, RunID: "run-1"}, bus, clk)
	j.mkdirAll = func(string, os.FileMode) error { return errors.New("disk full") }
	j.Start()
	defer j.Stop()

	assert.NotPanics(t, func() {
		bus.Publish(eventbus.TopicTrade, newTestTrade("BTC-USDT", "binance.futures.BTC-USDT", clk.NowMs()))
	})
}

func TestJournal_OpenFileFailureViaGomonkeyIsHandledWithoutPanic(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Now())

	patches := gomonkey.ApplyFunc(os.OpenFile, func(string, int, os.FileMode) (*os.File, error) {
		return nil, errors.New("simulated ENOSPC")
	})
	defer patches.Reset()

	j := New(Config{BaseDir: dir, RunID: "run-1"}, bus, clk)
	j.Start()
	defer j.Stop()

	assert.NotPanics(t, func() {
		bus.Publish(eventbus.TopicTrade, newTestTrade("BTC-USDT", "binance.futures.BTC-USDT", clk.NowMs()))
	})

	entries, _ := os.ReadDir(filepath.Join(dir, "binance.futures.BTC-USDT", "BTC-USDT", "trade", "run-1"))
	assert.Empty(t, entries)
}

func TestJournal_StopFlushesPendingRecords(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))

	j := New(Config{BaseDir: dir, RunID: "run-1", MaxBatchSize: 100, FlushInterval: time.Hour}, bus, clk)
	j.Start()

	bus.Publish(eventbus.TopicTrade, newTestTrade("BTC-USDT", "binance.futures.BTC-USDT", clk.NowMs()))
	j.Stop()

	path := filepath.Join(dir, "binance.futures.BTC-USDT", "BTC-USDT", "trade", "run-1", "2026-01-02.jsonl")
	recs := readLines(t, path)
	require.Len(t, recs, 1)
}
