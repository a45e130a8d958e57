// Package registry keeps the in-memory set of users subscribed to the daily
// weather broadcast. Entries live for the process lifetime only.
package registry

import (
	"sort"
	"sync"
	"time"
)

// User is a registered subscriber.
type User struct {
	UserID       int64     `json:"user_id"`
	ChatID       int64     `json:"chat_id"`
	Name         string    `json:"name,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry maps user id -> chat id. Safe for concurrent use; command handlers
// run on a worker pool while the broadcaster reads snapshots.
type Registry struct {
	mu    sync.RWMutex
	users map[int64]User
	now   func() time.Time
}

func New() *Registry {
	return &Registry{users: make(map[int64]User), now: time.Now}
}

// Register inserts or overwrites the entry for u.UserID. It reports whether
// the user was new.
func (r *Registry) Register(u User) bool {
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = r.now()
	}
	r.mu.Lock()
	_, existed := r.users[u.UserID]
	r.users[u.UserID] = u
	r.mu.Unlock()
	return !existed
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Snapshot returns a copy of all entries ordered by user id.
func (r *Registry) Snapshot() []User {
	r.mu.RLock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ChatIDs returns the delivery targets of every entry, one per user.
// Two users sharing a chat yield the chat id twice.
func (r *Registry) ChatIDs() []int64 {
	users := r.Snapshot()
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ChatID)
	}
	return out
}
