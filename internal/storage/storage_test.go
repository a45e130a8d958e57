package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "weatherbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
}

func TestOpenRejectsUnknownDriverAndMissingPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}

func testStore(t *testing.T, cfg Config) {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	}()

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	entries := []AuditEntry{
		{At: at, Action: ActionStart, UserID: 1, ChatID: 10, OK: 1},
		{At: at.Add(time.Second), Action: ActionWeather, UserID: 2, ChatID: 20, Fail: 1, Error: "chat not found"},
		{At: at.Add(time.Hour), Action: ActionBroadcast, RunID: "run-1", OK: 5, Fail: 1, TookMS: 1200},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit() = %v", err)
		}
	}

	got, err := st.RecentAudit(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAudit() = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentAudit len = %d, want 2", len(got))
	}
	if got[0].Action != ActionBroadcast || got[0].RunID != "run-1" || got[0].OK != 5 || got[0].TookMS != 1200 {
		t.Fatalf("newest = %+v", got[0])
	}
	if got[1].Action != ActionWeather || got[1].Error != "chat not found" || got[1].ChatID != 20 {
		t.Fatalf("second = %+v", got[1])
	}
	if !got[0].At.Equal(at.Add(time.Hour)) {
		t.Fatalf("At = %v", got[0].At)
	}

	all, err := st.RecentAudit(ctx, 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("RecentAudit(10) = %d, %v", len(all), err)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	testStore(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit", "weatherbot.jsonl")})
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	testStore(t, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "weatherbot.db"), BusyTimeout: time.Second})
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "a.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
	if err := st.AppendAudit(context.Background(), AuditEntry{Action: ActionStart}); err != ErrClosed {
		t.Fatalf("AppendAudit after Close = %v, want ErrClosed", err)
	}
}
