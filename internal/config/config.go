package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Store struct {
		Driver      string `validate:"required,oneof=memory sqlite postgres redis"`
		SQLitePath  string `validate:"required_if=Driver sqlite"`
		PostgresDSN string `validate:"required_if=Driver postgres"`
		Redis       struct {
			Addr     string
			Password string
			DB       int    `validate:"gte=0,lte=15"`
			Key      string `validate:"required"`
		}
	}
	Callback struct {
		Timeout     time.Duration `validate:"gt=0"`
		Retries     int           `validate:"gte=0,lte=10"`
		Concurrency int           `validate:"gte=1"`
	}
	AMQP struct {
		URL      string
		Exchange string `validate:"required_with=URL"`
	}
	Telegram struct {
		Token         string
		WebhookURL    string
		WebhookSecret string
		AllowedIDs    []int64
	}
	Maintenance struct {
		Schedule string `validate:"required"`
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var err error
	c.Env = getenv("ENV", "prod")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = os.Getenv("LOG_FILE")

	c.Store.Driver = strings.ToLower(getenv("STORE_DRIVER", "memory"))
	c.Store.SQLitePath = getenv("SQLITE_PATH", "data/delayd.db")
	c.Store.PostgresDSN = os.Getenv("POSTGRES_DSN")
	c.Store.Redis.Addr = os.Getenv("REDIS_ADDR")
	c.Store.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Store.Redis.Key = getenv("REDIS_KEY", "delayd-queue")
	if c.Store.Redis.DB, err = getint("REDIS_DB", 0); err != nil {
		return Config{}, err
	}

	if c.Callback.Timeout, err = getduration("CALLBACK_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if c.Callback.Retries, err = getint("CALLBACK_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if c.Callback.Concurrency, err = getint("CALLBACK_CONCURRENCY", 16); err != nil {
		return Config{}, err
	}

	c.AMQP.URL = os.Getenv("AMQP_URL")
	c.AMQP.Exchange = getenv("AMQP_EXCHANGE", "delayd.events")

	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.WebhookURL = os.Getenv("TELEGRAM_WEBHOOK_URL")
	c.Telegram.WebhookSecret = os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	if c.Telegram.AllowedIDs, err = parseIDs(os.Getenv("TELEGRAM_ALLOWED_IDS")); err != nil {
		return Config{}, err
	}

	c.Maintenance.Schedule = getenv("MAINTENANCE_SCHEDULE", "@every 1m")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.Store.Driver == "redis" && c.Store.Redis.Addr == "" {
		return Config{}, errors.New("REDIS_ADDR required when STORE_DRIVER is redis")
	}
	if c.Telegram.WebhookURL != "" && c.Telegram.Token == "" {
		return Config{}, errors.New("TELEGRAM_BOT_TOKEN required when TELEGRAM_WEBHOOK_URL is set")
	}
	if c.Telegram.WebhookURL != "" && c.Telegram.WebhookSecret == "" {
		return Config{}, errors.New("TELEGRAM_WEBHOOK_SECRET required when TELEGRAM_WEBHOOK_URL is set")
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getduration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

// parseIDs reads a comma separated list of telegram user ids.
func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALLOWED_IDS: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
