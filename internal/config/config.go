package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hamed0406/sitewatch/internal/notify"
)

// MemoryStore as SQLITE_PATH keeps everything in process memory.
const MemoryStore = ":memory-store:"

type Config struct {
	Addr     string // API bind address, e.g. "127.0.0.1:8080" or ":8080" in Docker
	LogDir   string
	LogLevel string

	DatabaseURL string // postgres DSN; wins over SQLitePath when set
	SQLitePath  string

	CheckInterval  time.Duration // default for targets registered without one
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	ErrorCooldown  time.Duration
	WriteTimeout   time.Duration
	MaxConcurrent  int
	DiagnoseDNS    bool

	ReportDay    int // 0=Monday .. 6=Sunday
	ReportHour   int // UTC
	ReportWindow time.Duration

	TelegramToken string
	SlackWebhook  string
	WebhookURL    string
	WebhookSecret string

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
	AllowedOrigins []string
}

func defaults(v *viper.Viper) {
	v.SetDefault("API_ADDR", "127.0.0.1:8080")
	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "data/sitewatch.db")
	v.SetDefault("DEFAULT_CHECK_INTERVAL", 300)
	v.SetDefault("REQUEST_TIMEOUT", 10)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("RETRY_BACKOFF_MS", 30000)
	v.SetDefault("ERROR_COOLDOWN", "60s")
	v.SetDefault("WRITE_TIMEOUT", "10s")
	v.SetDefault("MAX_CONCURRENT_CHECKS", 50)
	v.SetDefault("DNS_DIAGNOSIS", true)
	v.SetDefault("WEEKLY_REPORT_DAY", 0)
	v.SetDefault("WEEKLY_REPORT_HOUR", 9)
	v.SetDefault("REPORT_WINDOW", "168h")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("SLACK_WEBHOOK_URL", "")
	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("PUBLIC_API_KEYS", "")
	v.SetDefault("ADMIN_API_KEYS", "")
	v.SetDefault("PUBLIC_RPM", 120)
	v.SetDefault("PUBLIC_BURST", 60)
	v.SetDefault("ADMIN_RPM", 600)
	v.SetDefault("ADMIN_BURST", 120)
	v.SetDefault("ALLOWED_ORIGINS", "")
}

// Load reads the environment, and CONFIG_FILE when set, over built-in defaults.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		Addr:     v.GetString("API_ADDR"),
		LogDir:   v.GetString("LOG_DIR"),
		LogLevel: v.GetString("LOG_LEVEL"),

		DatabaseURL: v.GetString("DATABASE_URL"),
		SQLitePath:  v.GetString("SQLITE_PATH"),

		CheckInterval:  time.Duration(v.GetInt("DEFAULT_CHECK_INTERVAL")) * time.Second,
		RequestTimeout: time.Duration(v.GetInt("REQUEST_TIMEOUT")) * time.Second,
		MaxRetries:     v.GetInt("MAX_RETRIES"),
		RetryBackoff:   time.Duration(v.GetInt("RETRY_BACKOFF_MS")) * time.Millisecond,
		ErrorCooldown:  v.GetDuration("ERROR_COOLDOWN"),
		WriteTimeout:   v.GetDuration("WRITE_TIMEOUT"),
		MaxConcurrent:  v.GetInt("MAX_CONCURRENT_CHECKS"),
		DiagnoseDNS:    v.GetBool("DNS_DIAGNOSIS"),

		ReportDay:    v.GetInt("WEEKLY_REPORT_DAY"),
		ReportHour:   v.GetInt("WEEKLY_REPORT_HOUR"),
		ReportWindow: v.GetDuration("REPORT_WINDOW"),

		TelegramToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		SlackWebhook:  v.GetString("SLACK_WEBHOOK_URL"),
		WebhookURL:    v.GetString("WEBHOOK_URL"),
		WebhookSecret: v.GetString("WEBHOOK_SECRET"),

		PublicAPIKeys:  splitList(v.GetString("PUBLIC_API_KEYS")),
		AdminAPIKeys:   splitList(v.GetString("ADMIN_API_KEYS")),
		PublicRPM:      v.GetInt("PUBLIC_RPM"),
		PublicBurst:    v.GetInt("PUBLIC_BURST"),
		AdminRPM:       v.GetInt("ADMIN_RPM"),
		AdminBurst:     v.GetInt("ADMIN_BURST"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.CheckInterval <= 0 {
		errs = append(errs, errors.New("DEFAULT_CHECK_INTERVAL must be > 0"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be > 0"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must be >= 0"))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, errors.New("RETRY_BACKOFF_MS must be >= 0"))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_CHECKS must be > 0"))
	}
	if c.ReportDay < 0 || c.ReportDay > 6 {
		errs = append(errs, errors.New("WEEKLY_REPORT_DAY must be 0..6"))
	}
	if c.ReportHour < 0 || c.ReportHour > 23 {
		errs = append(errs, errors.New("WEEKLY_REPORT_HOUR must be 0..23"))
	}
	if c.ReportWindow <= 0 {
		errs = append(errs, errors.New("REPORT_WINDOW must be > 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ReportWeekday converts the Monday-based WEEKLY_REPORT_DAY to a time.Weekday.
func (c Config) ReportWeekday() time.Weekday {
	return time.Weekday((c.ReportDay + 1) % 7)
}

// UsesMemoryStore reports whether no durable registry is configured.
func (c Config) UsesMemoryStore() bool {
	return c.DatabaseURL == "" && (c.SQLitePath == "" || c.SQLitePath == MemoryStore)
}

func (c Config) Notify() notify.Options {
	return notify.Options{
		TelegramToken: c.TelegramToken,
		SlackWebhook:  c.SlackWebhook,
		WebhookURL:    c.WebhookURL,
		WebhookSecret: c.WebhookSecret,
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
