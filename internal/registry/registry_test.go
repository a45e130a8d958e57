package registry

import (
	"sync"
	"testing"
)

func TestRegisterOverwrites(t *testing.T) {
	t.Parallel()
	r := New()
	if !r.Register(User{UserID: 1, ChatID: 10}) {
		t.Fatal("first Register should report new user")
	}
	if r.Register(User{UserID: 1, ChatID: 11, Name: "Ann"}) {
		t.Fatal("second Register should report existing user")
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ChatID != 11 || snap[0].Name != "Ann" {
		t.Fatalf("Snapshot = %+v", snap)
	}
	u := snap[0]
	if u.RegisteredAt.IsZero() {
		t.Fatal("RegisteredAt should be set")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestChatIDsAllowsSharedChat(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(User{UserID: 2, ChatID: 100})
	r.Register(User{UserID: 1, ChatID: 100})
	r.Register(User{UserID: 3, ChatID: 300})

	got := r.ChatIDs()
	want := []int64{100, 100, 300}
	if len(got) != len(want) {
		t.Fatalf("ChatIDs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ChatIDs = %v, want %v", got, want)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(User{UserID: 1, ChatID: 10})
	snap := r.Snapshot()
	snap[0].ChatID = 99
	if u := r.Snapshot()[0]; u.ChatID != 10 {
		t.Fatalf("registry mutated through snapshot: %+v", u)
	}
}

func TestConcurrentRegisterAndSnapshot(t *testing.T) {
	t.Parallel()
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < 100; j++ {
				r.Register(User{UserID: base*1000 + j, ChatID: j})
			}
		}(int64(i))
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.ChatIDs()
			}
		}()
	}
	wg.Wait()
	if r.Len() != 800 {
		t.Fatalf("Len = %d, want 800", r.Len())
	}
}
