package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "weatherbot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. After Start, a timezone change restarts the cron
// instance and toggling Enabled starts or stops triggering.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	wasEnabled := s.cfg.Enabled
	s.cfg = cfg

	if s.base == nil {
		return
	}
	switch {
	case wasEnabled && !cfg.Enabled:
		s.stopCronLocked()
		s.log.Info("triggering disabled")
	case !wasEnabled && cfg.Enabled:
		s.startCronLocked()
	case cfg.Enabled && oldTZ != strings.TrimSpace(cfg.Timezone):
		s.stopCronLocked()
		s.startCronLocked()
	}
}

// Start begins triggering if enabled. Jobs run with contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	if !s.cfg.Enabled {
		s.log.Info("service started (triggering disabled)")
		return
	}
	s.startCronLocked()
}

// Stop stops triggering and waits for in-flight jobs until ctx is done, then
// cancels them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.base, s.cancel = nil, nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("jobs still running at stop; canceling")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) startCronLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc), cron.WithLogger(cronLogger{s.log}))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// stopCronLocked stops ticks without waiting; running jobs finish on their own.
func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
}

// AddCron registers (or replaces, by name) a job on a cron spec.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// keep the overlap guard when a schedule is replaced (hot reload)
	state := &runState{}
	for _, d := range s.defs {
		if d.name == name {
			state = d.state
		}
	}
	s.removeScheduleLocked(name)

	s.defs = append(s.defs, scheduleDef{
		id:      "cron:" + strconv.FormatInt(time.Now().UnixNano(), 36),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		state:   state,
	})
	if s.c == nil {
		// registered on Start
		return name, nil
	}
	if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
		return "", err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return name, nil
}

// AddDaily runs job every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) (string, error) {
	h, m, err := ParseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

func (s *Service) removeScheduleLocked(name string) bool {
	if name == "" {
		return false
	}
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			continue
		}
		s.defs[n] = d
		n++
	}
	removed := n < len(s.defs)
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	eid, err := s.c.AddJob(def.spec, cron.FuncJob(func() { s.run(def) }))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// run executes one tick of def unless the previous run is still in flight.
func (s *Service) run(def scheduleDef) {
	if !def.state.running.CompareAndSwap(false, true) {
		def.state.skips.Add(1)
		s.log.Warn("previous run still in progress; skipping", logx.String("name", def.name))
		s.record(HistoryItem{Name: def.name, StartedAt: time.Now(), Skipped: true})
		return
	}
	defer def.state.running.Store(false)

	// wg.Add under mu so it cannot race Stop's Wait.
	s.mu.Lock()
	base := s.base
	if base != nil {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if base == nil {
		return
	}
	defer s.wg.Done()

	ctx := base
	if def.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, def.timeout)
		defer cancel()
	}

	def.state.runs.Add(1)
	start := time.Now()
	err := s.runCaptured(ctx, def)
	item := HistoryItem{Name: def.name, StartedAt: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Error("job failed", logx.String("name", def.name), logx.Duration("took", item.Duration), logx.Err(err))
	} else {
		s.log.Info("job done", logx.String("name", def.name), logx.Duration("took", item.Duration))
	}
	s.record(item)
}

func (s *Service) runCaptured(ctx context.Context, def scheduleDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("name", def.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return def.job(ctx)
}

func (s *Service) record(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if len(s.history) >= historySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:historySize-1]
	}
	s.history = append(s.history, it)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists the next n fire times; only computed when
// debug logging is on.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}

// ParseHHMM parses a 24h wall-clock time like "08:00".
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
