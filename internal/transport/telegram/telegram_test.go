package telegram

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"weatherbot/internal/transport"
)

func TestSplitTextShortIsUntouched(t *testing.T) {
	t.Parallel()
	got := splitText("Погода в Prague:\nТемпература: 5.0°C", 100)
	if len(got) != 1 || got[0] != "Погода в Prague:\nТемпература: 5.0°C" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("x", 30)
	s := strings.Join([]string{line, line, line, line}, "\n") // 123 runes
	got := splitText(s, 70)
	if len(got) != 2 {
		t.Fatalf("chunks = %d (%q)", len(got), got)
	}
	if got[0] != line+"\n"+line {
		t.Fatalf("first chunk = %q", got[0])
	}
	if got[1] != line+"\n"+line {
		t.Fatalf("second chunk = %q", got[1])
	}
}

func TestSplitTextCountsRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ж", 25)
	got := splitText(s, 10)
	if len(got) != 3 {
		t.Fatalf("chunks = %d", len(got))
	}
	for i, c := range got {
		if n := len([]rune(c)); n > 10 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
	if strings.Join(got, "") != s {
		t.Fatal("chunks do not reassemble the input")
	}
}

func TestMessageFromTele(t *testing.T) {
	t.Parallel()
	if messageFromTele(nil) != nil {
		t.Fatal("nil message should map to nil")
	}
	if messageFromTele(&tele.Message{ID: 1}) != nil {
		t.Fatal("message without chat should map to nil")
	}

	got := messageFromTele(&tele.Message{
		ID:       7,
		Text:     "/start",
		ThreadID: 3,
		Chat:     &tele.Chat{ID: -100},
		Sender:   &tele.User{ID: 42, FirstName: "Ann", Username: "ann"},
	})
	want := transport.Message{ID: 7, ChatID: -100, ThreadID: 3, FromID: 42, FromFirstName: "Ann", FromUsername: "ann", Text: "/start"}
	if got == nil || *got != want {
		t.Fatalf("messageFromTele = %+v, want %+v", got, want)
	}

	// channel posts have no sender
	anon := messageFromTele(&tele.Message{ID: 8, Text: "/weather", Chat: &tele.Chat{ID: 5}})
	if anon == nil || anon.FromID != 0 || anon.ChatID != 5 {
		t.Fatalf("anonymous message = %+v", anon)
	}
}

func TestMenuHashChangesWithContent(t *testing.T) {
	t.Parallel()
	a := []transport.BotCommand{{Command: "start", Description: "Подписаться"}}
	b := []transport.BotCommand{{Command: "start", Description: "Подписаться на рассылку"}}
	if menuHash(a) == menuHash(b) {
		t.Fatal("different menus should hash differently")
	}
	if menuHash(a) != menuHash([]transport.BotCommand{{Command: "start", Description: "Подписаться"}}) {
		t.Fatal("equal menus should hash equally")
	}
}
