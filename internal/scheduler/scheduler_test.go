package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logx "weatherbot/pkg/logx"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"08:00", 8, 0, false},
		{" 23:59 ", 23, 59, false},
		{"7:05", 7, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"12:5", 0, 0, true},
		{"0800", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tc := range cases {
		h, m, err := ParseHHMM(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseHHMM(%q) err = %v", tc.in, err)
		}
		if !tc.wantErr && (h != tc.h || m != tc.m) {
			t.Fatalf("ParseHHMM(%q) = %d:%d", tc.in, h, m)
		}
	}
}

func noop(context.Context) error { return nil }

func TestAddDailyUpserts(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if _, err := s.AddDaily("broadcast", "08:00", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily() = %v", err)
	}
	if _, err := s.AddDaily("broadcast", "09:30", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily() = %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "30 9 * * *" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if _, err := s.AddCron("x", "not a spec", 0, noop); err == nil {
		t.Fatal("expected invalid spec error")
	}
	if _, err := s.AddCron("", "* * * * *", 0, noop); err == nil {
		t.Fatal("expected name error")
	}
	if _, err := s.AddCron("x", "* * * * *", 0, nil); err == nil {
		t.Fatal("expected job error")
	}
	if _, err := s.AddDaily("x", "25:00", 0, noop); err == nil {
		t.Fatal("expected time error")
	}
}

func startedDisabled(t *testing.T) *Service {
	t.Helper()
	s := New(Config{Enabled: false}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func onlyDef(t *testing.T, s *Service) scheduleDef {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.defs) != 1 {
		t.Fatalf("defs = %d", len(s.defs))
	}
	return s.defs[0]
}

func TestRunSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s := startedDisabled(t)
	release := make(chan struct{})
	started := make(chan struct{})
	_, err := s.AddCron("slow", "* * * * *", 0, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	def := onlyDef(t, s)

	done := make(chan struct{})
	go func() {
		s.run(def)
		close(done)
	}()
	<-started
	s.run(def) // overlapping tick
	close(release)
	<-done

	info := s.Snapshot().Schedules[0]
	if info.Runs != 1 || info.Skips != 1 || info.Running {
		t.Fatalf("info = %+v", info)
	}
	hist := s.Snapshot().History
	if len(hist) != 2 || !hist[0].Skipped || hist[1].Skipped {
		t.Fatalf("history = %+v", hist)
	}
}

func TestRunRecoversPanicAndAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := startedDisabled(t)
	_, _ = s.AddCron("panics", "* * * * *", 50*time.Millisecond, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		panic("kaboom")
	})
	s.run(onlyDef(t, s))

	hist := s.Snapshot().History
	if len(hist) != 1 || !strings.Contains(hist[0].Error, "kaboom") {
		t.Fatalf("history = %+v", hist)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	for i := 0; i < historySize+10; i++ {
		s.record(HistoryItem{Name: "x"})
	}
	if n := len(s.Snapshot().History); n != historySize {
		t.Fatalf("history = %d, want %d", n, historySize)
	}
}

func TestCronFiresAndTimezoneRestart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	fired := make(chan struct{}, 8)
	_, err := s.AddCron("tick", "@every 1s", time.Second, func(ctx context.Context) error {
		fired <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not fire")
	}

	s.Apply(Config{Enabled: true, Timezone: "Europe/Prague"})
	snap := s.Snapshot()
	if !snap.Running || snap.Timezone != "Europe/Prague" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("schedule not re-registered: %+v", snap.Schedules)
	}

	s.Apply(Config{Enabled: false, Timezone: "Europe/Prague"})
	if s.Snapshot().Running {
		t.Fatal("disabling should stop triggering")
	}
}
