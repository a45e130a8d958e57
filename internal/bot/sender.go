package bot

import (
	"context"
	"strings"
	"sync/atomic"

	"weatherbot/internal/metrics"
	"weatherbot/internal/transport"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

// Delivery is the outcome of one SendWeather call.
type Delivery struct {
	ChatID    int64
	Fetch     weather.Result
	MessageID int
	Err       error // send error only; fetch errors live in Fetch.Err
}

func (d Delivery) OK() bool { return d.Err == nil }

// WeatherSender is the operation shared by command handlers and the broadcaster.
type WeatherSender interface {
	SendWeather(ctx context.Context, chatID int64) Delivery
}

// Sender fetches the current report and sends it to one chat. The failure
// text is delivered too when the fetch fails.
type Sender struct {
	fetcher weather.Fetcher
	out     transport.Sender
	log     logx.Logger
	city    atomic.Pointer[string]
}

func NewSender(fetcher weather.Fetcher, out transport.Sender, city string, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sender{fetcher: fetcher, out: out, log: log}
	s.SetCity(city)
	return s
}

// SetCity switches the reported city (hot reload).
func (s *Sender) SetCity(city string) {
	city = strings.TrimSpace(city)
	s.city.Store(&city)
}

func (s *Sender) City() string { return *s.city.Load() }

func (s *Sender) SendWeather(ctx context.Context, chatID int64) Delivery {
	res := s.fetcher.Fetch(ctx, s.City())
	d := Delivery{ChatID: chatID, Fetch: res}

	ref, err := s.out.SendText(ctx, transport.ChatTarget{ChatID: chatID}, res.Text, &transport.SendOptions{DisablePreview: true})
	metrics.IncMessageSent("weather", err == nil)
	if err != nil {
		d.Err = err
		s.log.Error("weather send failed", logx.ChatID(chatID), logx.Err(err))
		return d
	}
	d.MessageID = ref.MessageID
	s.log.Info("weather sent", logx.ChatID(chatID), logx.Bool("fetch_ok", res.OK()))
	return d
}
