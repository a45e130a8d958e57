package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"weatherbot/internal/broadcast"
	"weatherbot/internal/config"
	"weatherbot/internal/liveness"
	"weatherbot/internal/scheduler"
	"weatherbot/internal/storage"
	"weatherbot/internal/transport/telegram"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

func mapCommandTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.command_timeout", cfg.Telegram.CommandTimeout, 30*time.Second)
}

func mapWeatherConfig(cfg *config.Config) (weather.Config, error) {
	timeout, err := config.ParseDurationOrDefault("weather.timeout", cfg.Weather.Timeout, 10*time.Second)
	if err != nil {
		return weather.Config{}, err
	}
	endpoint := strings.TrimSpace(cfg.Weather.Endpoint)
	if endpoint == "" {
		endpoint = config.DefaultEndpoint
	}
	return weather.Config{
		Endpoint: endpoint,
		APIKey:   strings.TrimSpace(cfg.Weather.APIKey),
		Timeout:  timeout,
	}, nil
}

func cityOf(cfg *config.Config) string {
	if c := strings.TrimSpace(cfg.Weather.City); c != "" {
		return c
	}
	return config.DefaultCity
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

// broadcastPlan is the broadcast part of the config after validation.
type broadcastPlan struct {
	cfg     broadcast.Config
	at      string
	timeout time.Duration
}

func mapBroadcastConfig(cfg *config.Config) (broadcastPlan, error) {
	bc := cfg.Broadcast
	if bc.Workers < 0 {
		return broadcastPlan{}, fmt.Errorf("broadcast.workers must be >= 0")
	}
	if bc.RatePerSec < 0 {
		return broadcastPlan{}, fmt.Errorf("broadcast.rate_per_sec must be >= 0")
	}
	at := strings.TrimSpace(bc.At)
	if at == "" {
		at = "08:00"
	}
	if _, _, err := scheduler.ParseHHMM(at); err != nil {
		return broadcastPlan{}, fmt.Errorf("broadcast.at: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("broadcast.timeout", bc.Timeout, 10*time.Minute)
	if err != nil {
		return broadcastPlan{}, err
	}
	return broadcastPlan{
		cfg:     broadcast.Config{Workers: bc.Workers, RatePerSec: bc.RatePerSec},
		at:      at,
		timeout: timeout,
	}, nil
}

func mapLivenessConfig(cfg *config.Config) liveness.Config {
	addr := strings.TrimSpace(cfg.Liveness.Addr)
	if addr == "" {
		addr = ":" + config.DefaultPort
	}
	return liveness.Config{
		Enabled:     cfg.Liveness.Enabled,
		Addr:        addr,
		Metrics:     cfg.Liveness.Metrics,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validateConfig rejects configs the bot cannot run with. It is used at
// startup and before committing a hot reload.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or TELEGRAM_TOKEN)"))
	}
	if strings.TrimSpace(cfg.Weather.APIKey) == "" {
		errs = append(errs, errors.New("weather.api_key is required (or WEATHER_API_KEY)"))
	}
	if cfg.Telegram.Workers < 0 {
		errs = append(errs, errors.New("telegram.workers must be >= 0"))
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapCommandTimeout(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapWeatherConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if lt := cfg.Logging.Telegram; lt.Enabled && lt.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id is required when logging.telegram.enabled"))
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
