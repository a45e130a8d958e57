package config

import (
	"strings"

	logx "weatherbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (token, api key) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.CommandTimeout) != strings.TrimSpace(newCfg.Telegram.CommandTimeout) ||
		oldCfg.Telegram.Workers != newCfg.Telegram.Workers {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.command_timeout", newCfg.Telegram.CommandTimeout),
		)
	}

	if oldCfg.Weather.APIKey != newCfg.Weather.APIKey ||
		oldCfg.Weather.City != newCfg.Weather.City ||
		oldCfg.Weather.Endpoint != newCfg.Weather.Endpoint ||
		oldCfg.Weather.Timeout != newCfg.Weather.Timeout {
		changed = append(changed, "weather")
		attrs = append(attrs,
			logx.String("weather.city", newCfg.Weather.City),
			logx.String("weather.timeout", newCfg.Weather.Timeout),
			logx.Bool("weather.api_key_changed", oldCfg.Weather.APIKey != newCfg.Weather.APIKey),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.at", newCfg.Broadcast.At),
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
		)
	}

	if oldCfg.Liveness != newCfg.Liveness {
		changed = append(changed, "liveness")
		attrs = append(attrs,
			logx.Bool("liveness.enabled", newCfg.Liveness.Enabled),
			logx.String("liveness.addr", newCfg.Liveness.Addr),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	var oldSt, newSt StorageConfig
	if oldCfg.Storage != nil {
		oldSt = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newSt = *newCfg.Storage
	}
	if oldSt != newSt {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newSt.Driver))
	}

	return changed, attrs
}
