package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	HTTPAddr string

	AuthURL          string
	ProfileURL       string
	AdvancedURL      string
	DoctorsURL       string
	GrandchildrenURL string
	RemoteTimeout    time.Duration

	StorageBackend string
	SQLitePath     string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	MigrationsDir  string

	SessionSecret string
	SessionMaxAge time.Duration
	SOSRequirePin bool

	TelegramBotToken string
	TelegramAPIURL   string
	CaregiverChatID  int64
	DoctorChatID     int64
	ReportFontPath   string
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: ignoring .env: %v", err)
	}

	const fn = "https://functions.poehali.dev/"
	return Config{
		HTTPAddr: getenv("HTTP_ADDR", "127.0.0.1:8090"),

		AuthURL:          getenv("AUTH_URL", fn+"a1c319aa-17e9-4504-9466-3f6378fd7d97"),
		ProfileURL:       getenv("PROFILE_URL", fn+"2b201be8-56ef-458c-a8a7-78010645c321"),
		AdvancedURL:      getenv("ADVANCED_URL", fn+"72aa9561-f0df-4bf9-9d70-6906f648dca1"),
		DoctorsURL:       getenv("DOCTORS_URL", fn+"de0d5e49-e4be-472f-ab36-f8000eb27b8e"),
		GrandchildrenURL: getenv("GRANDCHILDREN_URL", fn+"a395a6a4-78e1-4fc0-b51f-8099a0a6a83d"),
		RemoteTimeout:    getenvDuration("REMOTE_TIMEOUT", 15*time.Second),

		StorageBackend: strings.ToLower(getenv("STORAGE_BACKEND", BackendSQLite)),
		SQLitePath:     getenv("SQLITE_PATH", "companion.db"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		RedisAddr:      getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		MigrationsDir:  getenv("MIGRATIONS_DIR", "migrations"),

		SessionSecret: getenv("SESSION_SECRET", ""),
		SessionMaxAge: getenvDuration("SESSION_MAX_AGE", 24*time.Hour),
		SOSRequirePin: getenvBool("SOS_REQUIRE_PIN", true),

		TelegramBotToken: getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:   getenv("TELEGRAM_API_URL", ""),
		CaregiverChatID:  getenvInt64("CAREGIVER_CHAT_ID", 0),
		DoctorChatID:     getenvInt64("DOCTOR_CHAT_ID", 0),
		ReportFontPath:   getenv("REPORT_FONT_PATH", ""),
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.SessionSecret == "" {
		result = multierror.Append(result, errors.New("SESSION_SECRET is required"))
	}
	for key, val := range map[string]string{
		"AUTH_URL":          c.AuthURL,
		"PROFILE_URL":       c.ProfileURL,
		"ADVANCED_URL":      c.AdvancedURL,
		"DOCTORS_URL":       c.DoctorsURL,
		"GRANDCHILDREN_URL": c.GrandchildrenURL,
	} {
		if val == "" {
			result = multierror.Append(result, fmt.Errorf("%s is required", key))
		}
	}
	switch c.StorageBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			result = multierror.Append(result, errors.New("SQLITE_PATH is required for sqlite storage"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			result = multierror.Append(result, errors.New("DATABASE_URL is required for postgres storage"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			result = multierror.Append(result, errors.New("REDIS_ADDR is required for redis storage"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	if c.RemoteTimeout <= 0 {
		result = multierror.Append(result, errors.New("REMOTE_TIMEOUT must be positive"))
	}
	if (c.CaregiverChatID != 0 || c.DoctorChatID != 0) && c.TelegramBotToken == "" {
		result = multierror.Append(result, errors.New("TELEGRAM_BOT_TOKEN is required when a chat id is set"))
	}
	return result.ErrorOrNil()
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
