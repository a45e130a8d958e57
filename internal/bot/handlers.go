package bot

import (
	"context"
	"errors"
	"fmt"

	"weatherbot/internal/metrics"
	"weatherbot/internal/registry"
	"weatherbot/internal/transport"
	logx "weatherbot/pkg/logx"
)

const greetingFormat = "Привет, %s! Я твой бот для прогноза погоды. Ты можешь получать ежедневные уведомления о погоде."

// Greeting is the /start reply for a user with the given first name.
func Greeting(firstName string) string { return fmt.Sprintf(greetingFormat, firstName) }

// Handlers implements /start and /weather.
type Handlers struct {
	reg     *registry.Registry
	weather WeatherSender
	out     transport.Sender
}

func NewHandlers(reg *registry.Registry, weather WeatherSender, out transport.Sender) *Handlers {
	return &Handlers{reg: reg, weather: weather, out: out}
}

// Commands returns the command table for Dispatcher.Register.
func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "start", Description: "Подписаться на ежедневный прогноз", Handle: h.Start},
		{Name: "weather", Description: "Погода сейчас", Handle: h.Weather},
	}
}

// Start registers the caller, greets them and sends one report to the same
// chat. A failed greeting does not stop the report.
func (h *Handlers) Start(ctx context.Context, req *Request) error {
	msg := req.Message
	name := ""
	if msg != nil {
		name = msg.FromFirstName
	}
	isNew := h.reg.Register(registry.User{UserID: req.FromID, ChatID: req.Chat.ChatID, Name: name})
	metrics.SetUsersRegistered(h.reg.Len())
	req.Logger.Info("user started bot", logx.String("name", name), logx.Bool("new", isNew))

	var errs []error
	_, err := h.out.SendText(ctx, transport.ChatTarget{ChatID: req.Chat.ChatID}, Greeting(name), nil)
	metrics.IncMessageSent("greeting", err == nil)
	if err != nil {
		errs = append(errs, fmt.Errorf("greeting: %w", err))
	}
	if d := h.weather.SendWeather(ctx, req.Chat.ChatID); d.Err != nil {
		errs = append(errs, fmt.Errorf("weather: %w", d.Err))
	}
	return errors.Join(errs...)
}

// Weather sends one report to the originating chat.
func (h *Handlers) Weather(ctx context.Context, req *Request) error {
	return h.weather.SendWeather(ctx, req.Chat.ChatID).Err
}
