package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// DefaultFiles are the env files read when CONFIG_FILES is not set
var DefaultFiles = []string{"config.env", ".env"}

// Storage drivers
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	YooKassa YooKassaConfig
	Telegram TelegramConfig
	Storage  StorageConfig
	Sweep    SweepConfig
	HTTP     HTTPConfig
	Log      LogConfig
}

// ServerConfig configures the relay HTTP API
type ServerConfig struct {
	Host          string
	Port          int
	AllowedOrigin string
	BodyLimit     int64
	ServiceName   string
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// YooKassaConfig holds payment provider credentials and the fixed offer
type YooKassaConfig struct {
	ShopID      string
	SecretKey   string
	APIURL      string
	Amount      string
	Currency    string
	Description string
	ReturnURL   string
}

// TelegramConfig holds bot credentials and the admin chat
type TelegramConfig struct {
	BotToken          string
	AdminChatID       string
	WebAppURL         string
	TinkoffPaymentURL string
}

// StorageConfig selects the document backend and its locations
type StorageConfig struct {
	Driver            string
	PostgresDSN       string
	ContactsFile      string
	ProcessedFile     string
	HistoryFile       string
	SubscriptionsFile string
	HistoryLimit      int
}

// PostgresParams holds discrete PostgreSQL connection parameters
type PostgresParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a lib/pq connection string. It is empty when no host is set.
func (p PostgresParams) DSN() string {
	if strings.TrimSpace(p.Host) == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

// SweepConfig holds the expiry sweep schedule and policy thresholds
type SweepConfig struct {
	Schedule        string
	RunOnStart      bool
	PeriodDays      int
	ReminderDays    int
	SuspensionGrace time.Duration
}

// HTTPConfig configures outbound HTTP clients
type HTTPConfig struct {
	Timeout        time.Duration
	RequestsPerSec int
	MaxRetries     int
}

// LogConfig configures the root logger
type LogConfig struct {
	Level  string
	Format string
}

// Load reads layered env files and builds the configuration. Files listed
// first win; variables already present in the environment are never
// overridden.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = filesFromEnv()
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
		log.Debug().Str("file", file).Msg("Loaded env file")
	}

	var cfg Config

	cfg.Server.Host = getEnvWithDefault("HOST", "127.0.0.1")
	cfg.Server.Port = getEnvIntWithDefault("PORT", 8090)
	cfg.Server.AllowedOrigin = getEnvWithDefault("ALLOWED_ORIGIN", "https://x3percik5x.github.io")
	cfg.Server.BodyLimit = int64(getEnvIntWithDefault("BODY_LIMIT_BYTES", 300*1024))
	cfg.Server.ServiceName = getEnvWithDefault("SERVICE_NAME", "payminiapp-api")

	cfg.YooKassa.ShopID = strings.TrimSpace(os.Getenv("YOOKASSA_SHOP_ID"))
	cfg.YooKassa.SecretKey = strings.TrimSpace(os.Getenv("YOOKASSA_SECRET_KEY"))
	cfg.YooKassa.APIURL = getEnvWithDefault("YOOKASSA_API_URL", "https://api.yookassa.ru/v3")
	cfg.YooKassa.Amount = getEnvWithDefault("YOOKASSA_AMOUNT", "3000.00")
	cfg.YooKassa.Currency = getEnvWithDefault("YOOKASSA_CURRENCY", "RUB")
	cfg.YooKassa.Description = getEnvWithDefault("YOOKASSA_DESCRIPTION", "Подписка на обслуживание")
	cfg.YooKassa.ReturnURL = getEnvWithDefault("YOOKASSA_RETURN_URL", "https://x3percik5x.github.io/PayMiniApp/")

	cfg.Telegram.BotToken = getEnvWithDefault("TELEGRAM_BOT_TOKEN", os.Getenv("BOT_TOKEN"))
	cfg.Telegram.AdminChatID = strings.TrimSpace(os.Getenv("ADMIN_CHAT_ID"))
	cfg.Telegram.WebAppURL = os.Getenv("WEBAPP_URL")
	cfg.Telegram.TinkoffPaymentURL = os.Getenv("TINKOFF_PAYMENT_URL")

	cfg.Storage.Driver = strings.ToLower(getEnvWithDefault("STORAGE_DRIVER", DriverFile))
	cfg.Storage.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = PostgresParams{
			Host:     os.Getenv("DB_HOST"),
			Port:     getEnvWithDefault("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   os.Getenv("DB_NAME"),
			SSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),
		}.DSN()
	}
	cfg.Storage.ContactsFile = getEnvWithDefault("CONTACTS_FILE", "/opt/payminiapp-bot/contacts.json")
	cfg.Storage.ProcessedFile = getEnvWithDefault("PROCESSED_FILE", "processed-payments.json")
	cfg.Storage.HistoryFile = getEnvWithDefault("HISTORY_FILE", "payment-history.json")
	cfg.Storage.SubscriptionsFile = getEnvWithDefault("SUBSCRIPTIONS_FILE", "subscriptions.json")
	cfg.Storage.HistoryLimit = getEnvIntWithDefault("HISTORY_LIMIT", 5000)

	cfg.Sweep.Schedule = getEnvWithDefault("SWEEP_SCHEDULE", "@every 6h")
	cfg.Sweep.RunOnStart = getEnvBoolWithDefault("SWEEP_RUN_ON_START", true)
	cfg.Sweep.PeriodDays = getEnvIntWithDefault("SUBSCRIPTION_PERIOD_DAYS", 30)
	cfg.Sweep.ReminderDays = getEnvIntWithDefault("SWEEP_REMINDER_DAYS", 3)
	cfg.Sweep.SuspensionGrace = getEnvDurationWithDefault("SWEEP_SUSPEND_GRACE", 24*time.Hour)

	cfg.HTTP.Timeout = getEnvDurationWithDefault("HTTP_TIMEOUT", 30*time.Second)
	cfg.HTTP.RequestsPerSec = getEnvIntWithDefault("HTTP_RPS", 25)
	cfg.HTTP.MaxRetries = getEnvIntWithDefault("HTTP_MAX_RETRIES", 0)

	cfg.Log.Level = getEnvWithDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvWithDefault("LOG_FORMAT", "console")

	return &cfg, nil
}

// ValidateRelay checks the values the relay API process cannot start without
func (c *Config) ValidateRelay() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.Telegram.AdminChatID == "" {
		errs = append(errs, errors.New("ADMIN_CHAT_ID is required"))
	}
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateSweep()...)
	return errors.Join(errs...)
}

// ValidateBot checks the values the bot process cannot start without
func (c *Config) ValidateBot() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	errs = append(errs, c.validateStorage()...)
	return errors.Join(errs...)
}

func (c *Config) validateStorage() []error {
	var errs []error
	switch c.Storage.Driver {
	case DriverFile:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	if c.Storage.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be positive"))
	}
	return errs
}

func (c *Config) validateSweep() []error {
	var errs []error
	if c.Sweep.PeriodDays <= 0 {
		errs = append(errs, errors.New("SUBSCRIPTION_PERIOD_DAYS must be positive"))
	}
	if c.Sweep.ReminderDays < 0 {
		errs = append(errs, errors.New("SWEEP_REMINDER_DAYS must not be negative"))
	}
	if c.Sweep.SuspensionGrace < 0 {
		errs = append(errs, errors.New("SWEEP_SUSPEND_GRACE must not be negative"))
	}
	return errs
}

// Configured reports whether real shop credentials are set.
// Placeholder values from sample env files count as missing.
func (c YooKassaConfig) Configured() bool {
	if c.ShopID == "" || c.SecretKey == "" {
		return false
	}
	value := strings.ToLower(c.ShopID + " " + c.SecretKey)
	for _, placeholder := range []string{"replace_me", "your_shop_id", "your_secret_key"} {
		if strings.Contains(value, placeholder) {
			return false
		}
	}
	return true
}

func filesFromEnv() []string {
	raw := os.Getenv("CONFIG_FILES")
	if raw == "" {
		return DefaultFiles
	}
	var files []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := strings.ToLower(strings.TrimSpace(os.Getenv(key))); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration, using default")
	}
	return defaultValue
}
