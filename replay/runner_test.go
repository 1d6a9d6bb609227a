package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/journal"
)

func writeJournalFile(t *testing.T, baseDir, streamID, symbol, topicDir, runID, date string, recs []journal.Record) {
	t.Helper()
	dir := filepath.Join(baseDir, streamID, symbol, topicDir, runID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f, err := os.Create(filepath.Join(dir, date+".jsonl"))
	require.NoError(t, err)
	defer f.Close()
	for _, r := range recs {
		line, err := json.Marshal(r)
		require.NoError(t, err)
		_, err = f.Write(append(line, '\n'))
		require.NoError(t, err)
	}
}

func tradeRecord(t *testing.T, seq uint64, streamID, symbol string, tsEvent, tsIngest int64, tsExchange *int64, sequence *uint64, price float64) journal.Record {
	t.Helper()
	trade := ingestmodel.Trade{
		Envelope: ingestmodel.Envelope{
			Symbol: symbol, MarketType: ingestmodel.MarketFutures, StreamID: ingestmodel.StreamID(streamID),
			Meta: ingestmodel.EventMeta{
				TsEvent: tsEvent, TsIngest: tsIngest, TsExchange: tsExchange, Sequence: sequence,
				Source: "live", StreamID: ingestmodel.StreamID(streamID), CorrelationID: "corr-1",
			},
		},
		Price: price, Size: 1, Side: ingestmodel.SideBuy,
	}
	payload, err := json.Marshal(trade)
	require.NoError(t, err)
	return journal.Record{Seq: seq, StreamID: streamID, RunID: "run-1", Topic: string(eventbus.TopicTrade), Symbol: symbol, TsIngest: tsIngest, Payload: payload}
}

func int64p(v int64) *int64   { return &v }
func uint64p(v uint64) *uint64 { return &v }

func TestRunner_ReplaysCanonicalTopicWithRewrittenMeta(t *testing.T) {
	dir := t.TempDir()
	writeJournalFile(t, dir, "binance.futures", "BTC-USDT", "trade", "run-1", "2026-07-30", []journal.Record{
		tradeRecord(t, 1, "binance.futures", "BTC-USDT", 1000, 1001, int64p(999), uint64p(1), 100),
		tradeRecord(t, 2, "binance.futures", "BTC-USDT", 2000, 2001, int64p(1999), uint64p(2), 101),
	})

	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 5000).UTC())
	runner := New(bus, clk, 500)

	var trades []ingestmodel.Trade
	bus.Subscribe(eventbus.TopicTrade, func(p any) { trades = append(trades, p.(ingestmodel.Trade)) })

	var finished []FinishedEvent
	bus.Subscribe(eventbus.TopicReplayFinished, func(p any) { finished = append(finished, p.(FinishedEvent)) })

	req := Request{BaseDir: dir, StreamID: "binance.futures", Symbol: "BTC-USDT", Topic: "trade", Mode: ModeMax, Ordering: OrderingIngest}
	runner.Run(req, "replay-run-1")

	require.Len(t, trades, 2)
	assert.Equal(t, "replay", trades[0].Meta.Source)
	assert.Equal(t, int64(1000), trades[0].Meta.TsEvent)
	require.NotNil(t, trades[0].Meta.TsExchange)
	assert.Equal(t, int64(999), *trades[0].Meta.TsExchange)
	require.NotNil(t, trades[0].Meta.Sequence)
	assert.Equal(t, uint64(1), *trades[0].Meta.Sequence)
	assert.Equal(t, "corr-1", trades[0].Meta.CorrelationID)

	require.Len(t, finished, 1)
	assert.Equal(t, 2, finished[0].RecordsEmitted)
	assert.Equal(t, 0, finished[0].Errors)
}

func TestRunner_ExchangeOrderingSortsWithinFile(t *testing.T) {
	dir := t.TempDir()
	// One stream's file whose records are out of exchange order, to exercise
	// the sort rather than plain file order.
	writeJournalFile(t, dir, "binance.futures", "BTC-USDT", "trade", "run-1", "2026-07-30", []journal.Record{
		tradeRecord(t, 1, "binance.futures", "BTC-USDT", 3000, 3001, int64p(3000), uint64p(3), 103),
		tradeRecord(t, 2, "binance.futures", "BTC-USDT", 1000, 1001, int64p(1000), uint64p(1), 100),
	})

	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0).UTC())
	runner := New(bus, clk, 500)

	var prices []float64
	bus.Subscribe(eventbus.TopicTrade, func(p any) { prices = append(prices, p.(ingestmodel.Trade).Price) })

	req := Request{BaseDir: dir, StreamID: "binance.futures", Symbol: "BTC-USDT", Topic: "trade", Mode: ModeMax, Ordering: OrderingExchange}
	runner.Run(req, "replay-run-2")

	require.Len(t, prices, 2)
	assert.Equal(t, []float64{100, 103}, prices)
}

func TestRunner_DateRangeFiltersFiles(t *testing.T) {
	dir := t.TempDir()
	writeJournalFile(t, dir, "binance.futures", "BTC-USDT", "trade", "run-1", "2026-07-29", []journal.Record{
		tradeRecord(t, 1, "binance.futures", "BTC-USDT", 500, 501, nil, nil, 99),
	})
	writeJournalFile(t, dir, "binance.futures", "BTC-USDT", "trade", "run-1", "2026-07-30", []journal.Record{
		tradeRecord(t, 1, "binance.futures", "BTC-USDT", 1000, 1001, nil, nil, 100),
	})

	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0).UTC())
	runner := New(bus, clk, 500)

	var prices []float64
	bus.Subscribe(eventbus.TopicTrade, func(p any) { prices = append(prices, p.(ingestmodel.Trade).Price) })

	req := Request{
		BaseDir: dir, StreamID: "binance.futures", Symbol: "BTC-USDT", Topic: "trade",
		Mode: ModeMax, Ordering: OrderingIngest, DateFrom: "2026-07-30", DateTo: "2026-07-30",
	}
	runner.Run(req, "replay-run-3")

	require.Len(t, prices, 1)
	assert.Equal(t, 100.0, prices[0])
}

func TestRunner_DeterministicAcrossRepeatedRuns(t *testing.T) {
	dir := t.TempDir()
	writeJournalFile(t, dir, "binance.futures", "BTC-USDT", "trade", "run-1", "2026-07-30", []journal.Record{
		tradeRecord(t, 1, "binance.futures", "BTC-USDT", 1000, 1001, int64p(999), uint64p(1), 100),
		tradeRecord(t, 2, "binance.futures", "BTC-USDT", 2000, 2002, int64p(1999), uint64p(2), 101),
		tradeRecord(t, 3, "binance.futures", "BTC-USDT", 3000, 3003, int64p(2999), uint64p(3), 102),
	})

	req := Request{BaseDir: dir, StreamID: "binance.futures", Symbol: "BTC-USDT", Topic: "trade", Mode: ModeMax, Ordering: OrderingExchange}

	runOnce := func() []ingestmodel.Trade {
		bus := eventbus.New()
		clk := clock.NewVirtual(time.Unix(0, 0).UTC())
		runner := New(bus, clk, 500)
		var trades []ingestmodel.Trade
		bus.Subscribe(eventbus.TopicTrade, func(p any) { trades = append(trades, p.(ingestmodel.Trade)) })
		runner.Run(req, "replay-det")
		return trades
	}

	first := runOnce()
	second := runOnce()

	require.Len(t, first, 3)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Price, second[i].Price)
		assert.Equal(t, first[i].Meta.TsEvent, second[i].Meta.TsEvent)
		assert.Equal(t, first[i].Meta.TsExchange, second[i].Meta.TsExchange)
		assert.Equal(t, first[i].Meta.Sequence, second[i].Meta.Sequence)
	}
}

func TestRunner_PublishesWarningOnUnsupportedTopic(t *testing.T) {
	dir := t.TempDir()
	writeJournalFile(t, dir, "binance.futures", "BTC-USDT", "weird_topic", "run-1", "2026-07-30", []journal.Record{
		{Seq: 1, StreamID: "binance.futures", RunID: "run-1", Topic: "market:weird", Symbol: "BTC-USDT", TsIngest: 1, Payload: json.RawMessage(`{}`)},
	})

	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0).UTC())
	runner := New(bus, clk, 500)

	var warnings []WarningEvent
	bus.Subscribe(eventbus.TopicReplayWarning, func(p any) { warnings = append(warnings, p.(WarningEvent)) })

	req := Request{BaseDir: dir, StreamID: "binance.futures", Symbol: "BTC-USDT", Topic: "weird_topic", Mode: ModeMax}
	runner.Run(req, "replay-run-4")

	require.NotEmpty(t, warnings)
}
