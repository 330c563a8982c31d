package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeEnvFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:8090" {
		t.Errorf("Addr() = %s", cfg.Server.Addr())
	}
	if cfg.Storage.Driver != DriverFile {
		t.Errorf("Driver = %s", cfg.Storage.Driver)
	}
	if cfg.Storage.HistoryLimit != 5000 {
		t.Errorf("HistoryLimit = %d", cfg.Storage.HistoryLimit)
	}
	if cfg.Sweep.Schedule != "@every 6h" || !cfg.Sweep.RunOnStart {
		t.Errorf("unexpected sweep schedule %+v", cfg.Sweep)
	}
	if cfg.Sweep.PeriodDays != 30 || cfg.Sweep.ReminderDays != 3 || cfg.Sweep.SuspensionGrace != 24*time.Hour {
		t.Errorf("unexpected sweep policy %+v", cfg.Sweep)
	}
	if cfg.HTTP.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", cfg.HTTP.MaxRetries)
	}
	if cfg.YooKassa.Amount != "3000.00" || cfg.YooKassa.Currency != "RUB" {
		t.Errorf("unexpected offer %s %s", cfg.YooKassa.Amount, cfg.YooKassa.Currency)
	}
}

func TestLoadLayeredFiles(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ADMIN_CHAT_ID", "")
	t.Setenv("HISTORY_LIMIT", "")
	t.Setenv("ALLOWED_ORIGIN", "https://from-env.example")

	first := writeEnvFile(t, "config.env", strings.Join([]string{
		"PORT=9001",
		"ADMIN_CHAT_ID='-100500'",
		"ALLOWED_ORIGIN=https://from-file.example",
	}, "\n"))
	second := writeEnvFile(t, ".env", strings.Join([]string{
		"PORT=9002",
		"HISTORY_LIMIT=10",
	}, "\n"))

	// godotenv sets variables for the rest of the process
	t.Cleanup(func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ADMIN_CHAT_ID")
		os.Unsetenv("HISTORY_LIMIT")
	})
	os.Unsetenv("PORT")
	os.Unsetenv("ADMIN_CHAT_ID")
	os.Unsetenv("HISTORY_LIMIT")

	cfg, err := Load(first, second)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Port = %d, first file should win", cfg.Server.Port)
	}
	if cfg.Telegram.AdminChatID != "-100500" {
		t.Errorf("AdminChatID = %q", cfg.Telegram.AdminChatID)
	}
	if cfg.Storage.HistoryLimit != 10 {
		t.Errorf("HistoryLimit = %d", cfg.Storage.HistoryLimit)
	}
	if cfg.Server.AllowedOrigin != "https://from-env.example" {
		t.Errorf("AllowedOrigin = %s, environment should win", cfg.Server.AllowedOrigin)
	}
}

func TestBotTokenFallback(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("BotToken = %q", cfg.Telegram.BotToken)
	}
}

func TestValidateRelay(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.BotToken = "" }, wantErr: "TELEGRAM_BOT_TOKEN"},
		{name: "missing admin", mutate: func(c *Config) { c.Telegram.AdminChatID = "" }, wantErr: "ADMIN_CHAT_ID"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = DriverPostgres }, wantErr: "POSTGRES_DSN"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "STORAGE_DRIVER"},
		{name: "zero period", mutate: func(c *Config) { c.Sweep.PeriodDays = 0 }, wantErr: "SUBSCRIPTION_PERIOD_DAYS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Telegram: TelegramConfig{BotToken: "t", AdminChatID: "1"},
				Storage:  StorageConfig{Driver: DriverFile, HistoryLimit: 5000},
				Sweep:    SweepConfig{PeriodDays: 30, ReminderDays: 3, SuspensionGrace: 24 * time.Hour},
			}
			tt.mutate(cfg)
			err := cfg.ValidateRelay()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestYooKassaConfigured(t *testing.T) {
	tests := []struct {
		name     string
		cfg      YooKassaConfig
		expected bool
	}{
		{name: "empty", cfg: YooKassaConfig{}, expected: false},
		{name: "placeholder shop", cfg: YooKassaConfig{ShopID: "your_shop_id", SecretKey: "live_abc"}, expected: false},
		{name: "placeholder secret", cfg: YooKassaConfig{ShopID: "123", SecretKey: "REPLACE_ME"}, expected: false},
		{name: "real", cfg: YooKassaConfig{ShopID: "123456", SecretKey: "live_abc"}, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.expected {
				t.Errorf("Configured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPostgresDSNFromParams(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_USER", "relay")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "payments")
	t.Setenv("DB_SSLMODE", "require")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "host=db port=5432 user=relay password=secret dbname=payments sslmode=require"
	if cfg.Storage.PostgresDSN != want {
		t.Errorf("PostgresDSN = %q, want %q", cfg.Storage.PostgresDSN, want)
	}

	t.Setenv("POSTGRES_DSN", "postgres://relay@localhost/payments")
	cfg, err = Load(filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.PostgresDSN != "postgres://relay@localhost/payments" {
		t.Errorf("explicit DSN was not preferred: %q", cfg.Storage.PostgresDSN)
	}
}

func TestPostgresParamsWithoutHost(t *testing.T) {
	if dsn := (PostgresParams{User: "relay"}).DSN(); dsn != "" {
		t.Errorf("DSN() = %q, want empty", dsn)
	}
}
