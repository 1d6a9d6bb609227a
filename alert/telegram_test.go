package alert

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/quality"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestNewSink_DisabledConfigReturnsNil(t *testing.T) {
	sink, err := NewSink(nil)
	require.NoError(t, err)
	assert.Nil(t, sink)

	sink, err = NewSink(&config.TelegramConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, sink)
}

func TestSink_ForwardsMismatchAboveMinLevel(t *testing.T) {
	fake := &fakeSender{}
	sink := &Sink{bot: fake, chatID: 1, minLevel: LevelWarn}
	bus := eventbus.New()
	sink.Start(bus)

	bus.Publish(eventbus.TopicDataMismatch, quality.MismatchEvent{Topic: "market:price_canonical", Symbol: "BTC-USDT", Ratio: 0.05})

	require.Len(t, fake.sent, 1)
}

func TestSink_SuppressesBelowMinLevel(t *testing.T) {
	fake := &fakeSender{}
	sink := &Sink{bot: fake, chatID: 1, minLevel: LevelError}
	bus := eventbus.New()
	sink.Start(bus)

	bus.Publish(eventbus.TopicDataStale, quality.StaleEvent{Topic: "market:price_canonical", Symbol: "BTC-USDT"})

	assert.Empty(t, fake.sent)
}

func TestSink_ForwardsRecovery(t *testing.T) {
	fake := &fakeSender{}
	sink := &Sink{bot: fake, chatID: 1, minLevel: LevelInfo}
	bus := eventbus.New()
	sink.Start(bus)

	bus.Publish(eventbus.TopicDataSourceRecovered, quality.RecoveredEvent{Topic: "market:price_canonical", Symbol: "BTC-USDT"})

	require.Len(t, fake.sent, 1)
}
