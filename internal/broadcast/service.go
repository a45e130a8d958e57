// Package broadcast sends the current weather to every registered chat.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"weatherbot/internal/bot"
	"weatherbot/internal/metrics"
	"weatherbot/internal/storage"
	logx "weatherbot/pkg/logx"
)

func New(cfg Config, targets Targets, sender bot.WeatherSender, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{targets: targets, sender: sender, store: store, log: log, now: time.Now}
	s.Apply(cfg)
	return s
}

func newLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}

// Apply swaps workers and pacing; a run in progress keeps its settings.
func (s *Service) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = newLimiter(cfg.RatePerSec)
}

// Job adapts Run to the scheduler's job signature.
func (s *Service) Job() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.Run(ctx)
		return err
	}
}

// Run performs one weather send per registry entry. A failed delivery never
// stops the others. The error is non-nil only when another run is active or
// ctx ended the run early.
func (s *Service) Run(ctx context.Context) (RunStatus, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.IncBroadcastRun("skipped")
		return RunStatus{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.mu.Lock()
	workers := s.cfg.Workers
	lim := s.limiter
	s.mu.Unlock()

	chats := s.targets.ChatIDs()
	st := &RunStatus{ID: uuid.NewString(), Total: len(chats), StartedAt: s.now(), Running: true}
	s.push(st)
	log := s.log.With(logx.RunID(st.ID))
	log.Info("broadcast started", logx.Int("total", st.Total), logx.Int("workers", workers))

	queue := make(chan int64)
	var wg sync.WaitGroup
	for i := 0; i < min(workers, len(chats)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chatID := range queue {
				s.deliver(ctx, log, st, lim, chatID)
			}
		}()
	}
	for _, id := range chats {
		queue <- id
	}
	close(queue)
	wg.Wait()

	final := s.finish(st)
	took := final.DoneAt.Sub(final.StartedAt)

	fields := []logx.Field{
		logx.Int("total", final.Total),
		logx.Int("delivered", final.Delivered),
		logx.Int("failed", final.Failed),
		logx.Int("fetch_failed", final.FetchFailed),
		logx.Duration("dur", took),
	}
	outcome := "clean"
	if final.Failed > 0 {
		outcome = "partial"
		log.Warn("broadcast finished with failures", fields...)
	} else {
		log.Info("broadcast finished", fields...)
	}
	metrics.IncBroadcastRun(outcome)
	metrics.AddBroadcastDeliveries(final.Delivered, final.Failed)
	s.audit(final, took)

	if err := ctx.Err(); err != nil {
		return final, err
	}
	return final, nil
}

func (s *Service) deliver(ctx context.Context, log logx.Logger, st *RunStatus, lim *rate.Limiter, chatID int64) {
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			log.Debug("broadcast send not attempted", logx.ChatID(chatID), logx.Err(err))
			s.mark(st, bot.Delivery{ChatID: chatID, Err: err})
			return
		}
	}
	if err := ctx.Err(); err != nil {
		s.mark(st, bot.Delivery{ChatID: chatID, Err: err})
		return
	}
	s.mark(st, s.sender.SendWeather(ctx, chatID))
}

func (s *Service) mark(st *RunStatus, d bot.Delivery) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if d.Err != nil {
		st.Failed++
		if len(st.Failures) < maxFailures {
			st.Failures = append(st.Failures, d.ChatID)
		}
		return
	}
	st.Delivered++
	if d.Fetch.Err != nil {
		st.FetchFailed++
	}
}

func (s *Service) push(st *RunStatus) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if len(s.runs) >= keepRuns {
		copy(s.runs, s.runs[1:])
		s.runs = s.runs[:keepRuns-1]
	}
	s.runs = append(s.runs, st)
}

func (s *Service) finish(st *RunStatus) RunStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st.DoneAt = s.now()
	st.Running = false
	return cloneStatus(st)
}

func (s *Service) audit(st RunStatus, took time.Duration) {
	if s.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:     st.StartedAt,
		Action: storage.ActionBroadcast,
		RunID:  st.ID,
		OK:     st.Delivered,
		Fail:   st.Failed,
		TookMS: took.Milliseconds(),
	}
	// the run context may already be done at shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.AppendAudit(ctx, e); err != nil && !errors.Is(err, storage.ErrClosed) {
		s.log.Warn("audit append failed", logx.RunID(st.ID), logx.Err(err))
	}
}

func cloneStatus(st *RunStatus) RunStatus {
	out := *st
	out.Failures = append([]int64(nil), st.Failures...)
	return out
}

// Status returns the run with the given id, if it is still kept.
func (s *Service) Status(id string) (RunStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	for _, st := range s.runs {
		if st.ID == id {
			return cloneStatus(st), true
		}
	}
	return RunStatus{}, false
}

// Recent returns kept runs, newest first.
func (s *Service) Recent() []RunStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	out := make([]RunStatus, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		out = append(out, cloneStatus(s.runs[i]))
	}
	return out
}

func (s *Service) Running() bool { return s.running.Load() }
