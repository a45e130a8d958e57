package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "weatherbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Prague"; empty means Local
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	id      string
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	state   *runState
}

// runState is shared across restarts of the cron instance so the overlap
// guard survives a timezone change.
type runState struct {
	running atomic.Bool
	runs    atomic.Uint64
	skips   atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base is the context jobs derive from; set by Start.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

type ScheduleInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
	Running bool          `json:"running"`
	Runs    uint64        `json:"runs"`
	Skips   uint64        `json:"skips"`
}

// HistoryItem records one finished (or skipped) run.
type HistoryItem struct {
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}

const historySize = 50
