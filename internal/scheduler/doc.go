// Package scheduler triggers named jobs from cron specs in a configurable
// timezone. A job that is still running when its next tick arrives is
// skipped, never queued.
package scheduler
