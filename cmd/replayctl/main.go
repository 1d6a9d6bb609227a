// Command replayctl replays journal files from the command line, without
// standing up the full ingestd service. It logs through logrus rather than
// zerolog — an intentionally different choice from the rest of the module,
// since this is a standalone operator tool rather than part of the
// always-on ingestion core (see DESIGN.md).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/replay"
)

func main() {
	baseDir := flag.String("base-dir", "./data/journal", "journal base directory")
	streamID := flag.String("stream-id", "", "streamId to replay, e.g. binance.futures")
	symbol := flag.String("symbol", "", "symbol to replay, e.g. BTCUSDT")
	topic := flag.String("topic", "trade", "topic directory to replay (trade, ticker, kline, oi, funding, liquidation, orderbook_l2_snapshot, orderbook_l2_delta, cvd_spot, cvd_futures)")
	interval := flag.String("interval", "", "kline interval, only used when topic=kline")
	dateFrom := flag.String("date-from", "", "inclusive start date YYYY-MM-DD")
	dateTo := flag.String("date-to", "", "inclusive end date YYYY-MM-DD")
	ordering := flag.String("ordering", "ingest", "ingest or exchange")
	mode := flag.String("mode", "max", "max, accelerated, or realtime")
	speed := flag.Float64("speed", 1.0, "speed factor for accelerated mode")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if *streamID == "" || *symbol == "" {
		fmt.Fprintln(os.Stderr, "-stream-id and -symbol are required")
		os.Exit(2)
	}

	bus := eventbus.New()
	clk := clock.NewSystem()
	runner := replay.New(bus, clk, 1000)

	bus.Subscribe(eventbus.TopicReplayStarted, func(p any) {
		log.WithField("event", p).Info("replay started")
	})
	bus.Subscribe(eventbus.TopicReplayProgress, func(p any) {
		log.WithField("event", p).Info("replay progress")
	})
	bus.Subscribe(eventbus.TopicReplayWarning, func(p any) {
		log.WithField("event", p).Warn("replay warning")
	})
	bus.Subscribe(eventbus.TopicReplayError, func(p any) {
		log.WithField("event", p).Error("replay error")
	})
	bus.Subscribe(eventbus.TopicReplayFinished, func(p any) {
		log.WithField("event", p).Info("replay finished")
	})

	req := replay.Request{
		BaseDir: *baseDir, StreamID: *streamID, Symbol: *symbol, Topic: *topic, Interval: *interval,
		DateFrom: *dateFrom, DateTo: *dateTo, SpeedFactor: *speed,
	}
	switch *ordering {
	case "exchange":
		req.Ordering = replay.OrderingExchange
	default:
		req.Ordering = replay.OrderingIngest
	}
	switch *mode {
	case "accelerated":
		req.Mode = replay.ModeAccelerated
	case "realtime":
		req.Mode = replay.ModeRealtime
	default:
		req.Mode = replay.ModeMax
	}

	finished := runner.Run(req, uuid.New().String())
	if finished.Errors > 0 {
		os.Exit(1)
	}
}
