package app

import (
	"weatherbot/internal/bot"
	"weatherbot/internal/broadcast"
	"weatherbot/internal/registry"
	"weatherbot/internal/scheduler"
)

// statusReport is the body of GET /status on the liveness server.
type statusReport struct {
	Users     int                `json:"users"`
	City      string             `json:"city"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Broadcast broadcastReport    `json:"broadcast"`
}

type broadcastReport struct {
	Running bool                  `json:"running"`
	Recent  []broadcast.RunStatus `json:"recent"`
}

// reporter exposes runtime state to the liveness status routes.
type reporter struct {
	reg    *registry.Registry
	sender *bot.Sender
	sched  *scheduler.Service
	bcast  *broadcast.Service
}

func (r reporter) Status() any {
	return statusReport{
		Users:     r.reg.Len(),
		City:      r.sender.City(),
		Scheduler: r.sched.Snapshot(),
		Broadcast: broadcastReport{
			Running: r.bcast.Running(),
			Recent:  r.bcast.Recent(),
		},
	}
}

func (r reporter) BroadcastRun(id string) (any, bool) {
	st, ok := r.bcast.Status(id)
	if !ok {
		return nil, false
	}
	return st, true
}
