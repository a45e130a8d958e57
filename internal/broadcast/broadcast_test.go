package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"weatherbot/internal/bot"
	"weatherbot/internal/registry"
	"weatherbot/internal/storage"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	attempts []int64
	fail     map[int64]bool
	fetchErr bool
	block    chan struct{}
}

func (f *fakeSender) SendWeather(ctx context.Context, chatID int64) bot.Delivery {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.attempts = append(f.attempts, chatID)
	f.mu.Unlock()
	d := bot.Delivery{ChatID: chatID, Fetch: weather.Result{Text: "ok"}}
	if f.fetchErr {
		d.Fetch = weather.Result{Text: weather.FailureText, Err: weather.ErrBadStatus}
	}
	if f.fail[chatID] {
		d.Err = errors.New("bot was blocked by the user")
	}
	return d
}

func registryWith(n int) *registry.Registry {
	r := registry.New()
	for i := 1; i <= n; i++ {
		r.Register(registry.User{UserID: int64(i), ChatID: int64(100 + i)})
	}
	return r
}

func TestRunAttemptsEveryEntry(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{fail: map[int64]bool{102: true, 105: true}}
	s := New(Config{Workers: 3}, registryWith(7), fs, nil, logx.Nop())

	st, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(fs.attempts) != 7 {
		t.Fatalf("attempts = %d, want 7", len(fs.attempts))
	}
	seen := map[int64]bool{}
	for _, id := range fs.attempts {
		seen[id] = true
	}
	if len(seen) != 7 {
		t.Fatalf("attempted chats = %v", fs.attempts)
	}
	if st.Total != 7 || st.Delivered != 5 || st.Failed != 2 || st.Running {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Failures) != 2 {
		t.Fatalf("failures = %v", st.Failures)
	}
	if st.ID == "" || st.DoneAt.Before(st.StartedAt) {
		t.Fatalf("status = %+v", st)
	}
	if got, ok := s.Status(st.ID); !ok || got.Delivered != 5 {
		t.Fatalf("Status() = %+v, %v", got, ok)
	}
}

func TestRunSharedChatGetsOneAttemptPerUser(t *testing.T) {
	t.Parallel()
	r := registry.New()
	r.Register(registry.User{UserID: 1, ChatID: 50})
	r.Register(registry.User{UserID: 2, ChatID: 50})
	fs := &fakeSender{}
	s := New(Config{Workers: 1}, r, fs, nil, logx.Nop())

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fs.attempts) != 2 || fs.attempts[0] != 50 || fs.attempts[1] != 50 {
		t.Fatalf("attempts = %v", fs.attempts)
	}
}

func TestRunEmptyRegistry(t *testing.T) {
	t.Parallel()
	s := New(Config{}, registry.New(), &fakeSender{}, nil, logx.Nop())
	st, err := s.Run(context.Background())
	if err != nil || st.Total != 0 || st.Delivered != 0 {
		t.Fatalf("Run() = %+v, %v", st, err)
	}
}

func TestRunCountsFetchFailuresAsDelivered(t *testing.T) {
	t.Parallel()
	s := New(Config{}, registryWith(3), &fakeSender{fetchErr: true}, nil, logx.Nop())
	st, _ := s.Run(context.Background())
	if st.Delivered != 3 || st.FetchFailed != 3 || st.Failed != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{block: make(chan struct{})}
	s := New(Config{Workers: 1}, registryWith(1), fs, nil, logx.Nop())

	done := make(chan struct{})
	go func() {
		_, _ = s.Run(context.Background())
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run did not start")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run() = %v, want ErrAlreadyRunning", err)
	}
	close(fs.block)
	<-done
}

func TestRunCanceledContextMarksRemainingFailed(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fs := &fakeSender{}
	s := New(Config{Workers: 2, RatePerSec: 1}, registryWith(4), fs, nil, logx.Nop())

	st, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() err = %v", err)
	}
	if st.Failed != 4 || len(fs.attempts) != 0 {
		t.Fatalf("status = %+v attempts = %v", st, fs.attempts)
	}
}

func TestRunIsPaced(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	// burst of 5, then 5/s: 10 sends need about one second
	s := New(Config{Workers: 4, RatePerSec: 5}, registryWith(10), fs, nil, logx.Nop())
	start := time.Now()
	st, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(fs.attempts) != 10 || st.Delivered != 10 {
		t.Fatalf("delivered = %d", st.Delivered)
	}
	if took := time.Since(start); took < 800*time.Millisecond {
		t.Fatalf("run took %v, pacing not applied", took)
	}
}

func TestRunAppendsAudit(t *testing.T) {
	t.Parallel()
	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	s := New(Config{}, registryWith(2), &fakeSender{fail: map[int64]bool{101: true}}, store, logx.Nop())
	st, _ := s.Run(context.Background())

	got, err := store.RecentAudit(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RunID != st.ID || got[0].OK != 1 || got[0].Fail != 1 || got[0].Action != storage.ActionBroadcast {
		t.Fatalf("audit = %+v", got)
	}
}

func TestRecentIsBoundedNewestFirst(t *testing.T) {
	t.Parallel()
	s := New(Config{}, registry.New(), &fakeSender{}, nil, logx.Nop())
	var last string
	for i := 0; i < keepRuns+3; i++ {
		st, _ := s.Run(context.Background())
		last = st.ID
	}
	recent := s.Recent()
	if len(recent) != keepRuns || recent[0].ID != last {
		t.Fatalf("recent = %d, first = %q, want %q", len(recent), recent[0].ID, last)
	}
}
