package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file (modernc, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means driver default
}

// Audit actions.
const (
	ActionStart     = "start"
	ActionWeather   = "weather"
	ActionBroadcast = "broadcast"
)

// AuditEntry is one journal record. Command records carry UserID/ChatID,
// broadcast records carry RunID and the OK/Fail counts.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	RunID  string    `json:"run_id,omitempty"`
	UserID int64     `json:"user_id,omitempty"`
	ChatID int64     `json:"chat_id,omitempty"`
	OK     int       `json:"ok"`
	Fail   int       `json:"fail"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}
