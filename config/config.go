// Package config loads the process's static JSON configuration file, the
// teacher's own pattern (tolerant of a missing file, defaulting to the zero
// value) kept for the ambient pieces this module still needs: log level,
// optional Telegram alert sink, and the admin API's port/JWT secret. The
// bulk of the pipeline's runtime tuning — TTLs, weights, staleness
// thresholds, CVD mismatch tuning, reconnection policy — lives in Policy
// (policy.go), loaded separately and overridable via environment variables
//
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aspenmd/ingestd/logx"
)

// LogConfig configures the process-wide logger and its optional alert sink.
type LogConfig struct {
	Level    string          `json:"level"` // debug, info, warn, error (default: info)
	Telegram *TelegramConfig `json:"telegram"`
}

// TelegramConfig configures the alert package's push sink for QualityMonitor
// degradation/recovery events.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
	MinLevel string `json:"min_level"` // default: error
}

// Config is the process's static configuration.
type Config struct {
	AdminPort int        `json:"admin_port"`
	JWTSecret string     `json:"jwt_secret"`
	Log       *LogConfig `json:"log"`

	// Symbols is the per-marketType symbol set venue clients subscribe to
	// at startup.
	Symbols struct {
		Spot    []string `json:"spot"`
		Futures []string `json:"futures"`
	} `json:"symbols"`

	// OperatorPasswordHash gates POST /v1/auth/login; OperatorOTPSecret, if
	// set, additionally requires an X-OTP-Code header on POST /v1/replay.
	OperatorPasswordHash string `json:"operator_password_hash"`
	OperatorOTPSecret    string `json:"operator_otp_secret"`

	JournalBaseDir string `json:"journal_base_dir"`
}

// LoadConfig reads filename, returning a zero-value Config (not an error)
// when the file doesn't exist, so a fresh checkout with no config file
// still starts with compiled-in defaults.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		logx.Component("config").Info().Str("file", filename).Msg("config file not found, using defaults")
		return &Config{}, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}
	return &cfg, nil
}
