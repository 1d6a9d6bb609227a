// Package replay implements the ReplayRunner of : it discovers
// journal files, optionally reorders their records, and republishes them on
// their original canonical topic (never the "_raw" mirror) with meta.source
// rewritten to "replay" while tsEvent/tsExchange/sequence/streamId/
// correlationId are preserved exactly. The same journal file set replayed
// under the same ordering must always produce the same event sequence on
// the bus — the determinism contract  scenario S6 exercises.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/journal"
	"github.com/aspenmd/ingestd/logx"
)

// Mode selects replay pacing.
type Mode string

const (
	ModeMax         Mode = "max"         // no pacing, as fast as possible
	ModeAccelerated Mode = "accelerated" // sleep (Δ tsIngest)/speedFactor
	ModeRealtime    Mode = "realtime"    // sleep Δ tsIngest
)

// Ordering selects within-file record order.
type Ordering string

const (
	OrderingIngest   Ordering = "ingest"   // journal write order (tsIngest)
	OrderingExchange Ordering = "exchange" // (tsExchange, sequence, streamId)
)

// Request describes one replay run.
type Request struct {
	BaseDir     string
	StreamID    string
	Symbol      string
	Topic       string // canonical topic, e.g. "market:trade"
	Interval    string // kline tf; empty for everything else
	DateFrom    string // inclusive, "YYYY-MM-DD"
	DateTo      string // inclusive, "YYYY-MM-DD"
	Ordering    Ordering
	Mode        Mode
	SpeedFactor float64 // only consulted in ModeAccelerated
	StopOnError bool    // file-level errors: stop vs skip-and-continue
}

// StartedEvent is published on replay:started.
type StartedEvent struct {
	RunID string `json:"runId"`
	Files int    `json:"files"`
}

// ProgressEvent is published on replay:progress periodically.
type ProgressEvent struct {
	RunID         string `json:"runId"`
	RecordsEmitted int   `json:"recordsEmitted"`
	FilesProcessed int   `json:"filesProcessed"`
	TotalFiles     int   `json:"totalFiles"`
}

// WarningEvent is published on replay:warning for a malformed line.
type WarningEvent struct {
	RunID string `json:"runId"`
	File  string `json:"file"`
	Line  int    `json:"line"`
	Err   string `json:"err"`
}

// ErrorEvent is published on replay:error for a file-level failure.
type ErrorEvent struct {
	RunID string `json:"runId"`
	File  string `json:"file"`
	Err   string `json:"err"`
}

// FinishedEvent is published on replay:finished with final counts.
type FinishedEvent struct {
	RunID          string `json:"runId"`
	RecordsEmitted int    `json:"recordsEmitted"`
	FilesProcessed int    `json:"filesProcessed"`
	Warnings       int    `json:"warnings"`
	Errors         int    `json:"errors"`
}

// Runner drives replay requests against journal files onto bus.
type Runner struct {
	bus *eventbus.Bus
	clk clock.Clock

	progressEvery int // emit replay:progress every N records
}

// New constructs a Runner. progressEvery <= 0 defaults to 500.
func New(bus *eventbus.Bus, clk clock.Clock, progressEvery int) *Runner {
	if progressEvery <= 0 {
		progressEvery = 500
	}
	return &Runner{bus: bus, clk: clk, progressEvery: progressEvery}
}

// Run executes req synchronously, blocking for the duration of any pacing
// sleeps. runID identifies this run in the published replay:* events (the
// caller mints it, typically via google/uuid, so the admin API can return it
// before Run completes if called asynchronously).
func (r *Runner) Run(req Request, runID string) FinishedEvent {
	log := logx.Component("replay").With().Str("runId", runID).Logger()

	files, err := discoverFiles(req)
	if err != nil {
		log.Error().Err(err).Msg("journal file discovery failed")
		r.bus.Publish(eventbus.TopicReplayError, ErrorEvent{RunID: runID, Err: err.Error()})
		return FinishedEvent{RunID: runID, Errors: 1}
	}
	sort.Strings(files)

	r.bus.Publish(eventbus.TopicReplayStarted, StartedEvent{RunID: runID, Files: len(files)})

	topic, ok := journal.TopicForDirName(req.Topic)
	if !ok {
		// req.Topic may already be the full canonical topic name (e.g.
		// "market:trade") rather than its directory segment; try that too.
		topic = eventbus.Topic(req.Topic)
	}

	var emitted, warnings, errs int
	var prevTsIngest int64
	havePrev := false

	for fi, path := range files {
		recs, err := readRecords(path)
		if err != nil {
			errs++
			log.Error().Err(err).Str("file", path).Msg("reading journal file failed")
			r.bus.Publish(eventbus.TopicReplayError, ErrorEvent{RunID: runID, File: path, Err: err.Error()})
			if req.StopOnError {
				break
			}
			continue
		}

		valid := make([]journal.Record, 0, len(recs))
		for i, rec := range recs {
			if rec.Seq == 0 && len(rec.Payload) == 0 {
				warnings++
				r.bus.Publish(eventbus.TopicReplayWarning, WarningEvent{RunID: runID, File: path, Line: i + 1, Err: "empty record"})
				continue
			}
			valid = append(valid, rec)
		}

		ordered, orderErrs := orderRecords(valid, req.Ordering)
		warnings += orderErrs

		for _, rec := range ordered {
			event, tsIngest, err := decode(topic, rec.Payload, r.clk.NowMs())
			if err != nil {
				warnings++
				r.bus.Publish(eventbus.TopicReplayWarning, WarningEvent{RunID: runID, File: path, Err: err.Error()})
				continue
			}

			if req.Mode != ModeMax && havePrev {
				delta := time.Duration(tsIngest-prevTsIngest) * time.Millisecond
				if delta > 0 {
					if req.Mode == ModeAccelerated && req.SpeedFactor > 0 {
						delta = time.Duration(float64(delta) / req.SpeedFactor)
					}
					r.clk.Sleep(delta)
				}
			}
			prevTsIngest = tsIngest
			havePrev = true

			r.bus.Publish(topic, event)
			emitted++

			if emitted%r.progressEvery == 0 {
				r.bus.Publish(eventbus.TopicReplayProgress, ProgressEvent{
					RunID: runID, RecordsEmitted: emitted, FilesProcessed: fi + 1, TotalFiles: len(files),
				})
			}
		}
	}

	finished := FinishedEvent{RunID: runID, RecordsEmitted: emitted, FilesProcessed: len(files), Warnings: warnings, Errors: errs}
	r.bus.Publish(eventbus.TopicReplayFinished, finished)
	return finished
}

// discoverFiles walks baseDir/streamId/symbol/topic[/interval] across every
// runId subdirectory, returning every YYYY-MM-DD.jsonl file whose date
// falls within [dateFrom, dateTo] (inclusive, lexicographic comparison —
// safe since the filename format is already zero-padded ISO).
func discoverFiles(req Request) ([]string, error) {
	root := filepath.Join(req.BaseDir, req.StreamID, req.Symbol, req.Topic)
	if req.Interval != "" {
		root = filepath.Join(root, req.Interval)
	}

	runDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var files []string
	for _, runDir := range runDirs {
		if !runDir.IsDir() {
			continue
		}
		runPath := filepath.Join(root, runDir.Name())
		entries, err := os.ReadDir(runPath)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			date := trimJSONLExt(e.Name())
			if date == "" {
				continue
			}
			if req.DateFrom != "" && date < req.DateFrom {
				continue
			}
			if req.DateTo != "" && date > req.DateTo {
				continue
			}
			files = append(files, filepath.Join(runPath, e.Name()))
		}
	}
	return files, nil
}

func trimJSONLExt(name string) string {
	const ext = ".jsonl"
	if len(name) <= len(ext) || name[len(name)-len(ext):] != ext {
		return ""
	}
	return name[:len(name)-len(ext)]
}

func readRecords(path string) ([]journal.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []journal.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec journal.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			recs = append(recs, journal.Record{}) // marked invalid, surfaced as a warning by the caller
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// orderRecords preserves file (tsIngest/seq) order for OrderingIngest, or
// sorts by (exchangeTs, sequenceId, streamId) for OrderingExchange. Records
// lacking an exchange timestamp sort after every record that has one,
// keeping the sort total and therefore deterministic.
func orderRecords(recs []journal.Record, ordering Ordering) ([]journal.Record, int) {
	if ordering != OrderingExchange {
		return recs, 0
	}

	type sortable struct {
		rec        journal.Record
		tsExchange int64
		hasTs      bool
		sequence   uint64
		hasSeq     bool
	}

	invalid := 0
	items := make([]sortable, 0, len(recs))
	for _, rec := range recs {
		var env struct {
			Meta ingestmodel.EventMeta `json:"meta"`
		}
		s := sortable{rec: rec}
		if err := json.Unmarshal(rec.Payload, &env); err == nil {
			if env.Meta.TsExchange != nil {
				s.tsExchange, s.hasTs = *env.Meta.TsExchange, true
			}
			if env.Meta.Sequence != nil {
				s.sequence, s.hasSeq = *env.Meta.Sequence, true
			}
		} else {
			invalid++
		}
		items = append(items, s)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.hasTs != b.hasTs {
			return a.hasTs // records with a timestamp sort first
		}
		if a.hasTs && a.tsExchange != b.tsExchange {
			return a.tsExchange < b.tsExchange
		}
		if a.hasSeq != b.hasSeq {
			return a.hasSeq
		}
		if a.hasSeq && a.sequence != b.sequence {
			return a.sequence < b.sequence
		}
		return a.rec.StreamID < b.rec.StreamID
	})

	out := make([]journal.Record, len(items))
	for i, it := range items {
		out[i] = it.rec
	}
	return out, invalid
}

// decode unmarshals rec.Payload into the concrete canonical event type for
// topic, rewrites its meta.source to "replay" and meta.tsIngest to
// replayNowMs (the replay's own observation time — tsEvent/tsExchange/
// sequence/streamId/correlationId are left untouched), and returns it ready
// to publish plus the record's original tsIngest (used for pacing).
func decode(topic eventbus.Topic, payload json.RawMessage, replayNowMs int64) (event any, originalTsIngest int64, err error) {
	setMeta := func(m *ingestmodel.EventMeta) {
		originalTsIngest = m.TsIngest
		m.Source = "replay"
		m.TsIngest = replayNowMs
	}

	switch topic {
	case eventbus.TopicTrade:
		var e ingestmodel.Trade
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	case eventbus.TopicTicker:
		var e ingestmodel.Ticker
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	case eventbus.TopicKline:
		var e ingestmodel.Kline
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	case eventbus.TopicOI:
		var e ingestmodel.OpenInterest
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	case eventbus.TopicFunding:
		var e ingestmodel.Funding
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	case eventbus.TopicLiquidation:
		var e ingestmodel.Liquidation
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	case eventbus.TopicOrderbookSnapshot:
		var e ingestmodel.OrderbookL2Snapshot
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	case eventbus.TopicOrderbookDelta:
		var e ingestmodel.OrderbookL2Delta
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	case eventbus.TopicCvdSpot, eventbus.TopicCvdFutures:
		var e ingestmodel.Cvd
		if err = json.Unmarshal(payload, &e); err != nil {
			return nil, 0, err
		}
		setMeta(&e.Meta)
		return e, originalTsIngest, nil
	default:
		return nil, 0, fmt.Errorf("replay: unsupported topic %q", topic)
	}
}
