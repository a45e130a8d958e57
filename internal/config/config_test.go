package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.SetEnvLookup(noEnv)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if cfg.Weather.City != DefaultCity {
		t.Fatalf("city = %q, want %q", cfg.Weather.City, DefaultCity)
	}
	if cfg.Broadcast.At != "08:00" || cfg.Broadcast.RatePerSec != 25 {
		t.Fatalf("broadcast defaults = %+v", cfg.Broadcast)
	}
	if !cfg.Liveness.Enabled {
		t.Fatal("liveness should be enabled by default")
	}
}

func TestParseYAMLOverridesDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
weather:
  city: Brno
  timeout: 3s
broadcast:
  at: "07:30"
storage:
  driver: file
  path: ./audit.jsonl
`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if cfg.Weather.City != "Brno" || cfg.Weather.Timeout != "3s" {
		t.Fatalf("weather = %+v", cfg.Weather)
	}
	// untouched keys keep defaults
	if cfg.Weather.Endpoint != DefaultEndpoint {
		t.Fatalf("endpoint = %q", cfg.Weather.Endpoint)
	}
	if cfg.Broadcast.At != "07:30" || cfg.Broadcast.Workers != 4 {
		t.Fatalf("broadcast = %+v", cfg.Broadcast)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", "weather:\n  citty: Brno\n")
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "citty") {
		t.Fatalf("Parse() = %v, want unknown field error", err)
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"weather":{"city":"Brno"}}{"x":1}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParseEmptyYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", "# nothing here\n")
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if cfg.Weather.City != DefaultCity {
		t.Fatalf("city = %q", cfg.Weather.City)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", "telegram:\n  token: from-file\nweather:\n  city: Brno\n")
	m := NewConfigManager(p)
	m.SetEnvLookup(envMap(map[string]string{
		"TELEGRAM_TOKEN":  " from-env ",
		"WEATHER_API_KEY": "key",
		"WEATHER_CITY":    "",
		"PORT":            "8080",
		"LOG_LEVEL":       "debug",
	}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Weather.APIKey != "key" {
		t.Fatalf("api key = %q", cfg.Weather.APIKey)
	}
	// empty env values are ignored
	if cfg.Weather.City != "Brno" {
		t.Fatalf("city = %q", cfg.Weather.City)
	}
	if cfg.Liveness.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Liveness.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestPortDoesNotOverrideFileAddr(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", "liveness:\n  addr: \"127.0.0.1:9000\"\n")
	m := NewConfigManager(p)
	m.SetEnvLookup(envMap(map[string]string{"PORT": "8080"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if cfg.Liveness.Addr != "127.0.0.1:9000" {
		t.Fatalf("addr = %q, want file value", cfg.Liveness.Addr)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	t.Parallel()
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadDotEnv() = %v", err)
	}
	if err := LoadDotEnv(""); err != nil {
		t.Fatalf("LoadDotEnv(\"\") = %v", err)
	}
}

func TestReloadPublishesValidatedChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", "weather:\n  city: Brno\n")
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// same content: nothing published
	if m.reload(context.Background()) {
		t.Fatal("unchanged config should not publish")
	}

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Weather.City == "Nowhere" {
			return errors.New("unknown city")
		}
		return nil
	})

	if err := os.WriteFile(p, []byte("weather:\n  city: Nowhere\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(context.Background()) {
		t.Fatal("rejected config should not publish")
	}
	if got := m.Get().Weather.City; got != "Brno" {
		t.Fatalf("committed city = %q after rejection", got)
	}

	if err := os.WriteFile(p, []byte("weather:\n  city: Ostrava\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.reload(context.Background()) {
		t.Fatal("valid change should publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Weather.City != "Ostrava" {
			t.Fatalf("published city = %q", cfg.Weather.City)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.yaml")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("subscriber should hold the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Weather.APIKey = "secret"
	newCfg.Broadcast.At = "09:15"

	changed, attrs := SummarizeConfigChange(&oldCfg, &newCfg)
	if strings.Join(changed, ",") != "weather,broadcast" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	same := Default()
	if changed, _ := SummarizeConfigChange(&oldCfg, &same); len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, false},
		{"0s", 5 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, 5*time.Second)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err = %v", tc.raw, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}
}
