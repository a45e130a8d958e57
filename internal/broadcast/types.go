package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"weatherbot/internal/bot"
	"weatherbot/internal/storage"
	logx "weatherbot/pkg/logx"
)

var ErrAlreadyRunning = errors.New("broadcast already running")

type Config struct {
	Workers    int // concurrent senders; <= 0 means 4
	RatePerSec int // outgoing messages per second; 0 disables pacing
}

// Targets supplies the chat ids of one run. *registry.Registry implements it.
type Targets interface {
	ChatIDs() []int64
}

// RunStatus describes one broadcast run. FetchFailed counts deliveries that
// carried the failure text instead of a report.
type RunStatus struct {
	ID          string    `json:"id"`
	Total       int       `json:"total"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
	FetchFailed int       `json:"fetch_failed"`
	Failures    []int64   `json:"failures,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DoneAt      time.Time `json:"done_at"`
	Running     bool      `json:"running"`
}

const (
	maxFailures = 200
	keepRuns    = 20
)

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	targets Targets
	sender  bot.WeatherSender
	store   storage.Store
	log     logx.Logger

	running atomic.Bool

	statusMu sync.RWMutex
	runs     []*RunStatus // oldest first, at most keepRuns

	now func() time.Time
}
