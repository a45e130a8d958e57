package config

// Config is the on-disk (YAML or JSON) configuration.
//
// Every field has a default (see Default); the file itself is optional because
// secrets usually come from the environment (TELEGRAM_TOKEN, WEATHER_API_KEY).
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Weather   WeatherConfig   `json:"weather"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Liveness  LivenessConfig  `json:"liveness"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// CommandTimeout bounds a single /start or /weather handler.
	CommandTimeout string `json:"command_timeout"`
	// Workers is the command dispatcher pool size (0 = NumCPU, min 2).
	Workers int `json:"workers"`
}

type WeatherConfig struct {
	APIKey   string `json:"api_key"`
	City     string `json:"city"`
	Endpoint string `json:"endpoint"`
	Timeout  string `json:"timeout"`
}

// SchedulerConfig controls the cron trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// IANA TZ, e.g. "Europe/Prague". Empty means process local time.
	Timezone string `json:"timezone,omitempty"`
}

// BroadcastConfig controls the daily weather broadcast.
//
// RatePerSec paces outgoing messages to stay under Telegram's bot send limit;
// 0 disables pacing.
type BroadcastConfig struct {
	At         string `json:"at"`
	Workers    int    `json:"workers"`
	RatePerSec int    `json:"rate_per_sec"`
	Timeout    string `json:"timeout"`
}

// LivenessConfig controls the HTTP liveness server.
//
// Addr defaults to ":$PORT" (PORT defaults to 10000).
type LivenessConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Metrics bool   `json:"metrics"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional audit journal.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/weatherbot.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DefaultCity     = "Prague"
	DefaultEndpoint = "https://api.openweathermap.org/data/2.5/weather"
	DefaultPort     = "10000"
)

// Default returns the configuration used when the file omits a field.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{
			PollTimeout:    "10s",
			CommandTimeout: "30s",
		},
		Weather: WeatherConfig{
			City:     DefaultCity,
			Endpoint: DefaultEndpoint,
			Timeout:  "10s",
		},
		Scheduler: SchedulerConfig{Enabled: true},
		Broadcast: BroadcastConfig{
			At:         "08:00",
			Workers:    4,
			RatePerSec: 25,
			Timeout:    "10m",
		},
		Liveness: LivenessConfig{Enabled: true, Metrics: true},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Telegram: LoggingTelegram{
				MinLevel:   "error",
				RatePerSec: 1,
			},
		},
	}
}
