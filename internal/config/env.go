package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables on cfg:
//
//	TELEGRAM_TOKEN   -> telegram.token
//	WEATHER_API_KEY  -> weather.api_key
//	WEATHER_CITY     -> weather.city
//	PORT             -> liveness.addr (":" + PORT), only when addr is unset
//	LOG_LEVEL        -> logging.level
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("TELEGRAM_TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("WEATHER_API_KEY"); ok {
		cfg.Weather.APIKey = v
	}
	if v, ok := get("WEATHER_CITY"); ok {
		cfg.Weather.City = v
	}
	if v, ok := get("PORT"); ok && strings.TrimSpace(cfg.Liveness.Addr) == "" {
		cfg.Liveness.Addr = ":" + v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
}
