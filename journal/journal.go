// Package journal implements the append-only JSON-lines event store of
//  A Journal subscribes to every canonical (non-"_raw",
// non-aggregate) topic on the bus and appends one line per event under
// <baseDir>/<streamId>/<symbol>/<topic-dir>[/<tf>]/<runId>/<YYYY-MM-DD>.jsonl.
// File writes are batched: flushed (and fsynced) every flushIntervalMs or
// once maxBatchSize lines have accumulated in a file, whichever comes
// first.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/logx"
	"github.com/aspenmd/ingestd/metrics"
)

// Record is one journaled line schema.
type Record struct {
	Seq      uint64          `json:"seq"`
	StreamID string          `json:"streamId"`
	RunID    string          `json:"runId"`
	Topic    string          `json:"topic"`
	Symbol   string          `json:"symbol"`
	TsIngest int64           `json:"tsIngest"`
	Payload  json.RawMessage `json:"payload"`
}

// Config tunes a Journal's batching and rotation behaviour.
type Config struct {
	BaseDir         string
	RunID           string
	FlushInterval   time.Duration
	MaxBatchSize    int
	MaxQueueBacklog int // warn threshold on the background flush queue
}

type fileKey struct {
	StreamID string
	Symbol   string
	TopicDir string
	TF       string
	Date     string
}

func (k fileKey) path(baseDir, runID string) string {
	parts := []string{baseDir, k.StreamID, k.Symbol, k.TopicDir}
	if k.TF != "" {
		parts = append(parts, k.TF)
	}
	parts = append(parts, runID, k.Date+".jsonl")
	return filepath.Join(parts...)
}

type fileState struct {
	f       *os.File
	w       *bufio.Writer
	seq     uint64
	pending int
}

// Journal appends every observed canonical event to its journal file,
// batching writes and fsyncing on batch boundaries.
type Journal struct {
	cfg Config
	bus *eventbus.Bus
	clk clock.Clock

	mu    sync.Mutex
	files map[fileKey]*fileState

	stop chan struct{}
	wg   sync.WaitGroup

	mkdirAll func(string, os.FileMode) error
	openFile func(string, int, os.FileMode) (*os.File, error)
}

// New constructs a Journal bound to bus; call Start to begin subscribing.
func New(cfg Config, bus *eventbus.Bus, clk clock.Clock) *Journal {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxQueueBacklog <= 0 {
		cfg.MaxQueueBacklog = 10_000
	}
	return &Journal{
		cfg:      cfg,
		bus:      bus,
		clk:      clk,
		files:    make(map[fileKey]*fileState),
		stop:     make(chan struct{}),
		mkdirAll: os.MkdirAll,
		openFile: os.OpenFile,
	}
}

// canonicalTopics is every topic the journal records — the canonical,
// pre-aggregation events the determinism contract ( invariant 1,
// scenario S6) is built on. Raw mirrors and aggregates are never journaled:
// replay recomputes aggregates from these, so journaling them too would
// let a stale aggregate mask a kernel regression.
var canonicalTopics = []eventbus.Topic{
	eventbus.TopicTrade,
	eventbus.TopicTicker,
	eventbus.TopicKline,
	eventbus.TopicOI,
	eventbus.TopicFunding,
	eventbus.TopicLiquidation,
	eventbus.TopicOrderbookSnapshot,
	eventbus.TopicOrderbookDelta,
	eventbus.TopicCvdSpot,
	eventbus.TopicCvdFutures,
}

// TopicDirName returns the directory-name segment a canonical topic is
// journaled under, e.g. market:trade -> "trade". Used by the replay package
// to lay out the same directory structure on read as Journal does on write.
func TopicDirName(t eventbus.Topic) (string, bool) {
	name, ok := topicDirNames[t]
	return name, ok
}

// TopicForDirName is the inverse of TopicDirName.
func TopicForDirName(dir string) (eventbus.Topic, bool) {
	for t, name := range topicDirNames {
		if name == dir {
			return t, true
		}
	}
	return "", false
}

var topicDirNames = map[eventbus.Topic]string{
	eventbus.TopicTrade:             "trade",
	eventbus.TopicTicker:            "ticker",
	eventbus.TopicKline:             "kline",
	eventbus.TopicOI:                "oi",
	eventbus.TopicFunding:           "funding",
	eventbus.TopicLiquidation:       "liquidation",
	eventbus.TopicOrderbookSnapshot: "orderbook_l2_snapshot",
	eventbus.TopicOrderbookDelta:    "orderbook_l2_delta",
	eventbus.TopicCvdSpot:           "cvd_spot",
	eventbus.TopicCvdFutures:        "cvd_futures",
}

// Start subscribes to every canonical topic and starts the background
// flush loop. Call Stop to flush and close everything on shutdown.
func (j *Journal) Start() {
	for _, topic := range canonicalTopics {
		t := topic
		j.bus.Subscribe(t, func(payload any) { j.onEvent(t, payload) })
	}
	j.wg.Add(1)
	go j.flushLoop()
}

// Stop flushes and closes every open file, and stops the background loop.
func (j *Journal) Stop() {
	close(j.stop)
	j.wg.Wait()
	j.mu.Lock()
	defer j.mu.Unlock()
	for k, fs := range j.files {
		j.syncAndClose(k, fs)
	}
	j.files = make(map[fileKey]*fileState)
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.flushAll()
		}
	}
}

func (j *Journal) flushAll() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for k, fs := range j.files {
		if fs.pending == 0 {
			continue
		}
		if err := j.flushLocked(k, fs); err != nil {
			logx.Component("journal").Error().Err(err).
				Str("streamId", k.StreamID).Str("topic", k.TopicDir).Msg("periodic flush failed")
		}
	}
}

func (j *Journal) onEvent(topic eventbus.Topic, payload any) {
	symbol, streamID, tsIngest, tf, ok := extractMeta(payload)
	if !ok {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logx.Component("journal").Error().Err(err).Str("topic", string(topic)).Msg("marshal failed, dropping event")
		return
	}

	date := time.UnixMilli(j.clk.NowMs()).UTC().Format("2006-01-02")
	key := fileKey{StreamID: streamID, Symbol: symbol, TopicDir: topicDirNames[topic], TF: tf, Date: date}

	j.mu.Lock()
	defer j.mu.Unlock()

	fs, err := j.fileFor(key)
	if err != nil {
		metrics.JournalWriteErrorsTotal.WithLabelValues(streamID).Inc()
		logx.Component("journal").Error().Err(err).Str("streamId", streamID).Msg("open journal file failed")
		return
	}

	fs.seq++
	rec := Record{
		Seq:      fs.seq,
		StreamID: streamID,
		RunID:    j.cfg.RunID,
		Topic:    string(topic),
		Symbol:   symbol,
		TsIngest: tsIngest,
		Payload:  raw,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		logx.Component("journal").Error().Err(err).Msg("marshal record failed")
		return
	}
	if _, err := fs.w.Write(line); err != nil {
		metrics.JournalWriteErrorsTotal.WithLabelValues(streamID).Inc()
		logx.Component("journal").Error().Err(err).Msg("write failed")
		return
	}
	if _, err := fs.w.WriteString("\n"); err != nil {
		metrics.JournalWriteErrorsTotal.WithLabelValues(streamID).Inc()
		return
	}
	fs.pending++

	if fs.pending >= j.cfg.MaxBatchSize {
		if err := j.flushLocked(key, fs); err != nil {
			metrics.JournalWriteErrorsTotal.WithLabelValues(streamID).Inc()
			logx.Component("journal").Error().Err(err).Msg("batch flush failed")
		}
	}
}

// fileFor returns the open fileState for key, creating directories and the
// file as needed. Must be called with j.mu held.
func (j *Journal) fileFor(key fileKey) (*fileState, error) {
	if fs, ok := j.files[key]; ok {
		return fs, nil
	}
	path := key.path(j.cfg.BaseDir, j.cfg.RunID)
	if err := j.mkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := j.openFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	fs := &fileState{f: f, w: bufio.NewWriter(f)}
	j.files[key] = fs
	return fs, nil
}

// flushLocked flushes the buffered writer and fsyncs the underlying file.
// Must be called with j.mu held.
func (j *Journal) flushLocked(key fileKey, fs *fileState) error {
	if err := fs.w.Flush(); err != nil {
		return err
	}
	if err := fs.f.Sync(); err != nil {
		return err
	}
	fs.pending = 0
	return nil
}

func (j *Journal) syncAndClose(key fileKey, fs *fileState) {
	if err := j.flushLocked(key, fs); err != nil {
		logx.Component("journal").Error().Err(err).Str("streamId", key.StreamID).Msg("final flush failed")
	}
	_ = fs.f.Close()
}

// extractMeta pulls (symbol, streamId, tsIngest, tf) out of any canonical
// event type this journal records. tf is only non-empty for klines, whose
// directory layout includes the interval.
func extractMeta(payload any) (symbol, streamID string, tsIngest int64, tf string, ok bool) {
	switch v := payload.(type) {
	case ingestmodel.Trade:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, "", true
	case ingestmodel.Ticker:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, "", true
	case ingestmodel.Kline:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, v.Interval, true
	case ingestmodel.OpenInterest:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, "", true
	case ingestmodel.Funding:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, "", true
	case ingestmodel.Liquidation:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, "", true
	case ingestmodel.OrderbookL2Snapshot:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, "", true
	case ingestmodel.OrderbookL2Delta:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, "", true
	case ingestmodel.Cvd:
		return v.Symbol, string(v.StreamID), v.Meta.TsIngest, "", true
	default:
		return "", "", 0, "", false
	}
}
