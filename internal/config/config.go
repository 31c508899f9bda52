package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"
)

// ErrHelp is returned when --help was requested; the caller should exit 0.
var ErrHelp = errors.New("help requested")

type rawCfg struct {
	// Telegram
	TelegramToken  string `long:"telegram-token" env:"TELEGRAM_TOKEN" description:"Bot token (BOT_TOKEN is accepted too)"`
	TelegramChatID string `long:"telegram-chat-id" env:"TELEGRAM_CHAT_ID" description:"Destination channel (CHANNEL_ID is accepted too)"`
	PreviewChatID  string `long:"preview-chat-id" env:"PREVIEW_CHANNEL_ID" description:"When set, posts go to this channel instead"`
	TelegramAPIURL string `long:"telegram-api-url" env:"TELEGRAM_API_URL" default:"https://api.telegram.org" description:"Bot API base URL"`

	// Cycle
	CheckInterval    int    `long:"check-interval" env:"CHECK_INTERVAL" default:"600" description:"Seconds between cycles"`
	CycleSchedule    string `long:"cycle-schedule" env:"CYCLE_SCHEDULE" description:"Cron spec; overrides check-interval when set"`
	MaxNewsPerSource int    `long:"max-news-per-source" env:"MAX_NEWS_PER_SOURCE" default:"3" description:"Items kept per source per cycle"`
	SourcesFile      string `long:"sources-file" env:"SOURCES_FILE" default:"configs/sources.yaml" description:"Source list"`
	KeywordsFile     string `long:"keywords-file" env:"KEYWORDS_FILE" default:"configs/keywords.yaml" description:"Keyword vocabularies"`

	// Fetching
	FetchConcurrency int    `long:"fetch-concurrency" env:"FETCH_CONCURRENCY" default:"8" description:"Sources fetched in parallel"`
	FetchAttempts    int    `long:"fetch-attempts" env:"FETCH_ATTEMPTS" default:"3" description:"Attempts per fetch strategy"`
	RequestTimeout   int    `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"30" description:"Seconds per HTTP request"`
	StaticProxy      string `long:"static-proxy" env:"STATIC_PROXY" description:"Single proxy used for every proxied request"`
	ProxySourceURL   string `long:"proxy-source-url" env:"PROXY_SOURCE_URL" description:"URL of a plain-text proxy list"`
	RenderHeadless   string `long:"render-headless" env:"RENDER_HEADLESS" default:"true" description:"Run the browser headless"`
	RenderTimeout    int    `long:"render-timeout" env:"RENDER_TIMEOUT" default:"30000" description:"Browser navigation budget in milliseconds"`

	// Dedup record
	DedupBackend   string `long:"dedup-backend" env:"DEDUP_BACKEND" default:"file" choice:"file" choice:"sqlite" choice:"postgres" choice:"redis" description:"Durable dedup record"`
	DuplicatesFile string `long:"duplicates-file" env:"DUPLICATES_FILE" default:"duplicates.txt" description:"Line file for the file backend"`
	SQLitePath     string `long:"sqlite-path" env:"SQLITE_PATH" default:"metalnews.db" description:"Database file for the sqlite backend"`
	DatabaseURL    string `long:"database-url" env:"DATABASE_URL" description:"DSN for the postgres backend"`
	RedisAddr      string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Address for the redis backend"`
	RedisKey       string `long:"redis-key" env:"REDIS_KEY" default:"metalnews:sent" description:"Set key for the redis backend"`

	// Publishing
	PublishDelay        int    `long:"publish-delay" env:"PUBLISH_DELAY" default:"3" description:"Seconds to wait after a delivered post"`
	PublishFailureDelay int    `long:"publish-failure-delay" env:"PUBLISH_FAILURE_DELAY" default:"5" description:"Seconds to wait after a failed post"`
	ReadMoreLabel       string `long:"read-more-label" env:"READ_MORE_LABEL" default:"Читать полностью" description:"Link text at the end of a post"`

	// Translation
	TranslateEnabled  string `long:"translate" env:"TRANSLATE_ENABLED" default:"true" description:"Translate posts to the target language"`
	TranslateTarget   string `long:"translate-target" env:"TRANSLATE_TARGET" default:"ru" description:"Target language code"`
	GeminiAPIKey      string `long:"gemini-api-key" env:"GEMINI_API_KEY" description:"Enables the Gemini fallback translator"`
	GeminiModel       string `long:"gemini-model" env:"GEMINI_MODEL" default:"gemini-1.5-flash" description:"Gemini model name"`
	MaxGeminiRequests int    `long:"max-gemini-requests" env:"MAX_GEMINI_REQUESTS" default:"50" description:"Daily Gemini request budget (0 = unlimited)"`

	// Monitoring
	MonitoringEnabled string `long:"monitoring" env:"ENABLE_HTTP_MONITORING" default:"false" description:"Serve /health and /metrics"`
	MonitoringPort    string `long:"monitoring-port" env:"MONITORING_PORT" default:"8080" description:"Monitoring server port"`

	Debug string `long:"debug" env:"DEBUG" default:"false" description:"Enable debug logging"`
}

type Config struct {
	// Telegram settings
	TelegramToken  string
	TelegramChatID string
	PreviewChatID  string
	TelegramAPIURL string

	// Cycle settings
	CheckInterval    time.Duration
	CycleSchedule    string
	MaxNewsPerSource int
	SourcesFile      string
	KeywordsFile     string

	// Fetch settings
	FetchConcurrency int
	FetchAttempts    int
	RequestTimeout   time.Duration
	StaticProxy      string
	ProxySourceURL   string
	RenderHeadless   bool
	RenderTimeout    time.Duration

	// Dedup settings
	DedupBackend   string
	DuplicatesFile string
	SQLitePath     string
	DatabaseURL    string
	RedisAddr      string
	RedisKey       string

	// Publish settings
	PublishDelay        time.Duration
	PublishFailureDelay time.Duration
	ReadMoreLabel       string

	// Translation settings
	TranslateEnabled  bool
	TranslateTarget   string
	GeminiAPIKey      string
	GeminiModel       string
	MaxGeminiRequests int

	MonitoringEnabled bool
	MonitoringPort    string
	Debug             bool
}

// Load reads configuration from command-line flags and the environment.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Config, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Config{
		TelegramToken:       firstNonEmpty(raw.TelegramToken, os.Getenv("BOT_TOKEN")),
		TelegramChatID:      firstNonEmpty(raw.TelegramChatID, os.Getenv("CHANNEL_ID")),
		PreviewChatID:       raw.PreviewChatID,
		TelegramAPIURL:      strings.TrimRight(raw.TelegramAPIURL, "/"),
		CheckInterval:       time.Duration(raw.CheckInterval) * time.Second,
		CycleSchedule:       strings.TrimSpace(raw.CycleSchedule),
		MaxNewsPerSource:    raw.MaxNewsPerSource,
		SourcesFile:         raw.SourcesFile,
		KeywordsFile:        raw.KeywordsFile,
		FetchConcurrency:    raw.FetchConcurrency,
		FetchAttempts:       raw.FetchAttempts,
		RequestTimeout:      time.Duration(raw.RequestTimeout) * time.Second,
		StaticProxy:         strings.TrimSpace(raw.StaticProxy),
		ProxySourceURL:      strings.TrimSpace(raw.ProxySourceURL),
		RenderHeadless:      parseBool(raw.RenderHeadless, true),
		RenderTimeout:       time.Duration(raw.RenderTimeout) * time.Millisecond,
		DedupBackend:        raw.DedupBackend,
		DuplicatesFile:      raw.DuplicatesFile,
		SQLitePath:          raw.SQLitePath,
		DatabaseURL:         raw.DatabaseURL,
		RedisAddr:           raw.RedisAddr,
		RedisKey:            raw.RedisKey,
		PublishDelay:        time.Duration(raw.PublishDelay) * time.Second,
		PublishFailureDelay: time.Duration(raw.PublishFailureDelay) * time.Second,
		ReadMoreLabel:       raw.ReadMoreLabel,
		TranslateEnabled:    parseBool(raw.TranslateEnabled, true),
		TranslateTarget:     strings.ToLower(strings.TrimSpace(raw.TranslateTarget)),
		GeminiAPIKey:        raw.GeminiAPIKey,
		GeminiModel:         raw.GeminiModel,
		MaxGeminiRequests:   raw.MaxGeminiRequests,
		MonitoringEnabled:   parseBool(raw.MonitoringEnabled, false),
		MonitoringPort:      raw.MonitoringPort,
		Debug:               parseBool(raw.Debug, false),
	}

	return cfg, cfg.Validate()
}

// Destination is the channel posts are delivered to.
func (c *Config) Destination() string {
	if c.PreviewChatID != "" {
		return c.PreviewChatID
	}
	return c.TelegramChatID
}

func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("CHECK_INTERVAL must be positive")
	}
	if c.CycleSchedule != "" {
		if _, err := cron.ParseStandard(c.CycleSchedule); err != nil {
			return fmt.Errorf("CYCLE_SCHEDULE: %w", err)
		}
	}
	if c.MaxNewsPerSource <= 0 {
		return fmt.Errorf("MAX_NEWS_PER_SOURCE must be positive")
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive")
	}
	if c.FetchAttempts <= 0 {
		return fmt.Errorf("FETCH_ATTEMPTS must be positive")
	}
	if c.RequestTimeout <= 0 || c.RenderTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT and RENDER_TIMEOUT must be positive")
	}
	if c.PublishDelay < 0 || c.PublishFailureDelay < 0 {
		return fmt.Errorf("publish delays must not be negative")
	}
	switch c.DedupBackend {
	case "file":
		if c.DuplicatesFile == "" {
			return fmt.Errorf("DUPLICATES_FILE is required for the file backend")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "redis":
		if c.RedisAddr == "" || c.RedisKey == "" {
			return fmt.Errorf("REDIS_ADDR and REDIS_KEY are required for the redis backend")
		}
	default:
		return fmt.Errorf("DEDUP_BACKEND must be one of file, sqlite, postgres, redis")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}
