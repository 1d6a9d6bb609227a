// Package alert pushes QualityMonitor degradation/recovery events to an
// operator's Telegram chat, grounded on the go-telegram-bot-api client the
// teacher's go.mod already carried. Wiring is entirely additive: the sink
// subscribes to the same data:stale/data:mismatch/data:sourceRecovered
// topics any other observer does, and is a no-op when config.TelegramConfig
// isn't enabled.
package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/logx"
	"github.com/aspenmd/ingestd/quality"
)

// Level orders alert severities so MinLevel can filter what gets sent.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func parseLevel(s string) Level {
	switch s {
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// sender is the minimal surface Sink needs from *tgbotapi.BotAPI, so tests
// can swap in a fake instead of hitting the real Telegram API.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sink subscribes to QualityMonitor's bus topics and forwards anything at or
// above MinLevel to a Telegram chat.
type Sink struct {
	bot      sender
	chatID   int64
	minLevel Level
}

// NewSink constructs a Sink from cfg. Returns (nil, nil) when cfg is nil or
// disabled — callers should skip Start in that case.
func NewSink(cfg *config.TelegramConfig) (*Sink, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	minLevel := cfg.MinLevel
	if minLevel == "" {
		minLevel = "error"
	}
	return &Sink{bot: bot, chatID: cfg.ChatID, minLevel: parseLevel(minLevel)}, nil
}

// Start subscribes the sink to bus. Call once at startup.
func (s *Sink) Start(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.TopicDataStale, func(p any) {
		ev, ok := p.(quality.StaleEvent)
		if !ok {
			return
		}
		s.send(LevelWarn, fmt.Sprintf("⚠️ stale: %s %s (last update %dms ago, threshold %dms)",
			ev.Topic, ev.Symbol, ev.NowTs-ev.LastTs, ev.ThresholdMs))
	})
	bus.Subscribe(eventbus.TopicDataMismatch, func(p any) {
		ev, ok := p.(quality.MismatchEvent)
		if !ok {
			return
		}
		s.send(LevelError, fmt.Sprintf("🔴 mismatch: %s %s min=%.6f max=%.6f ratio=%.4f (%s)",
			ev.Topic, ev.Symbol, ev.Min, ev.Max, ev.Ratio, ev.Mode))
	})
	bus.Subscribe(eventbus.TopicDataSourceRecovered, func(p any) {
		ev, ok := p.(quality.RecoveredEvent)
		if !ok {
			return
		}
		s.send(LevelInfo, fmt.Sprintf("✅ recovered: %s %s", ev.Topic, ev.Symbol))
	})
}

func (s *Sink) send(level Level, text string) {
	if level < s.minLevel {
		return
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	if _, err := s.bot.Send(msg); err != nil {
		logx.Component("alert").Error().Err(err).Msg("telegram send failed")
	}
}
