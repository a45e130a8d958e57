// Package storage is the optional audit journal: one record per command
// delivery and per broadcast run. Registered users are never persisted.
package storage
