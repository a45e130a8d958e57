// Package metrics holds the bot's Prometheus collectors. They are served by
// the liveness server on /metrics.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	weatherFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_fetch_total",
			Help: "Weather provider calls by result (ok/failed).",
		},
		[]string{"result"},
	)

	weatherFetchLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weather_fetch_latency_ms",
			Help:    "Weather provider call latency in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
	)

	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_messages_sent_total",
			Help: "Outgoing messages by kind (greeting/weather) and result.",
		},
		[]string{"kind", "result"},
	)

	commandsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_commands_received_total",
			Help: "Incoming commands by name.",
		},
		[]string{"command"},
	)

	usersRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "users_registered",
			Help: "Users currently in the broadcast registry.",
		},
	)

	broadcastRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_runs_total",
			Help: "Daily broadcast runs by outcome (clean/partial/skipped).",
		},
		[]string{"outcome"},
	)

	broadcastDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Broadcast send attempts by result.",
		},
		[]string{"result"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			weatherFetchTotal, weatherFetchLatencyMs,
			messagesSentTotal, commandsReceivedTotal,
			usersRegistered,
			broadcastRunsTotal, broadcastDeliveriesTotal,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// -------- Weather --------

func ObserveWeatherFetch(ok bool, took time.Duration) {
	weatherFetchTotal.WithLabelValues(result(ok)).Inc()
	weatherFetchLatencyMs.Observe(float64(took.Milliseconds()))
}

// -------- Telegram --------

func IncMessageSent(kind string, ok bool) {
	messagesSentTotal.WithLabelValues(norm(kind), result(ok)).Inc()
}

func IncCommand(command string) {
	commandsReceivedTotal.WithLabelValues(norm(command)).Inc()
}

func SetUsersRegistered(n int) { usersRegistered.Set(float64(n)) }

// -------- Broadcast --------

func IncBroadcastRun(outcome string) {
	broadcastRunsTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddBroadcastDeliveries(ok, failed int) {
	if ok > 0 {
		broadcastDeliveriesTotal.WithLabelValues("ok").Add(float64(ok))
	}
	if failed > 0 {
		broadcastDeliveriesTotal.WithLabelValues("failed").Add(float64(failed))
	}
}
