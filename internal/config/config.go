package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// ErrInvalid marks configuration that prevents startup.
var ErrInvalid = errors.New("invalid config")

// Long polling: Telegram holds an idle getUpdates call for the poll timeout,
// so the HTTP client deadline (SEND_TIMEOUT) must exceed it by pollSlack.
const (
	pollSlack      = 5 * time.Second
	maxPollTimeout = 30 * time.Second

	// MinSendTimeout leaves room for a poll of at least five seconds.
	MinSendTimeout = 10 * time.Second
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`

	// MTProto credentials of the reading account (my.telegram.org).
	APIID       int    `envconfig:"API_ID" required:"true"`
	APIHash     string `envconfig:"API_HASH" required:"true"`
	SessionPath string `envconfig:"SESSION_PATH" default:"./data/telegram.session"`

	OpenRouterKey     string  `envconfig:"OPENROUTER_API_KEY" required:"true"`
	OpenRouterModel   string  `envconfig:"OPENROUTER_MODEL" default:"anthropic/claude-3.5-sonnet"`
	OpenRouterBaseURL string  `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
	SummaryMaxTokens  int     `envconfig:"SUMMARY_MAX_TOKENS" default:"2000"`
	SummaryTemp       float32 `envconfig:"SUMMARY_TEMPERATURE" default:"0.7"`

	DBPath   string `envconfig:"DB_PATH" default:"./data/bot.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // healthz

	Schedule   string `envconfig:"SCHEDULE" default:"0 * * * *"` // cron spec, minute resolution
	Workers    int    `envconfig:"WORKERS" default:"1"`          // users processed concurrently per tick
	FetchLimit int    `envconfig:"FETCH_LIMIT" default:"100"`    // max messages per channel per run
	SendRate   int    `envconfig:"SEND_RATE" default:"20"`       // outbound messages per second

	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	LLMTimeout  time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"30s"`
}

// Load reads an optional .env file and then environment variables into Config.
func Load() (Config, error) {
	// Real environment wins over .env; a missing file is fine.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot express.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"BOT_TOKEN":          c.BotToken,
		"API_HASH":           c.APIHash,
		"OPENROUTER_API_KEY": c.OpenRouterKey,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}
	if c.APIID <= 0 {
		errs = append(errs, errors.New("API_ID must be a positive integer"))
	}
	if c.OpenRouterModel == "" {
		errs = append(errs, errors.New("OPENROUTER_MODEL must not be empty"))
	}
	if c.SummaryMaxTokens <= 0 {
		errs = append(errs, errors.New("SUMMARY_MAX_TOKENS must be positive"))
	}
	if c.SummaryTemp < 0 || c.SummaryTemp > 2 {
		errs = append(errs, errors.New("SUMMARY_TEMPERATURE must be within [0, 2]"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("WORKERS must be positive"))
	}
	if c.FetchLimit <= 0 {
		errs = append(errs, errors.New("FETCH_LIMIT must be positive"))
	}
	if c.SendRate <= 0 {
		errs = append(errs, errors.New("SEND_RATE must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"READ_TIMEOUT": c.ReadTimeout,
		"LLM_TIMEOUT":  c.LLMTimeout,
		"SEND_TIMEOUT": c.SendTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.SendTimeout > 0 && c.SendTimeout < MinSendTimeout {
		errs = append(errs, fmt.Errorf("SEND_TIMEOUT must be at least %s", MinSendTimeout))
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULE: %v", err))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL: unknown level %q", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// PollTimeout is the getUpdates long-poll timeout in seconds, kept below the
// HTTP client timeout so an idle poll returns before the client gives up.
func (c Config) PollTimeout() int {
	d := min(c.SendTimeout-pollSlack, maxPollTimeout)
	return max(1, int(d/time.Second))
}
