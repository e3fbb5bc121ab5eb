package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxzi/dealpost/internal/catalog"
	"github.com/foxzi/dealpost/internal/content"
)

type botServer struct {
	method  string
	payload map[string]any
	status  int
	reply   string
}

func (b *botServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendPhoto" && r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		b.method = r.URL.Path[len("/botTOKEN/"):]
		raw, _ := io.ReadAll(r.Body)
		b.payload = nil
		json.Unmarshal(raw, &b.payload)
		w.WriteHeader(b.status)
		io.WriteString(w, b.reply)
	}
}

func TestTelegramPublish(t *testing.T) {
	bot := &botServer{status: http.StatusOK, reply: `{"ok":true,"result":{}}`}
	srv := httptest.NewServer(bot.handler(t))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "TOKEN", time.Second, nil)
	ch := catalog.Channel{Name: "@deals", ChatID: "-100500"}
	ctx := context.Background()

	if err := tg.Publish(ctx, ch, &content.Post{Text: "hello", ImageURL: "https://img/1.jpg"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if bot.method != "sendPhoto" {
		t.Errorf("method = %s, want sendPhoto", bot.method)
	}
	if bot.payload["chat_id"] != "-100500" || bot.payload["caption"] != "hello" || bot.payload["parse_mode"] != "Markdown" {
		t.Errorf("payload = %v", bot.payload)
	}

	if err := tg.Publish(ctx, ch, &content.Post{Text: "text only"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if bot.method != "sendMessage" || bot.payload["text"] != "text only" {
		t.Errorf("method = %s, payload = %v", bot.method, bot.payload)
	}
}

func TestTelegramErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		reply      string
		temporary  bool
		retryAfter time.Duration
	}{
		{"forbidden", http.StatusForbidden, `{"ok":false,"error_code":403,"description":"bot was kicked"}`, false, 0},
		{"bad request", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"can't parse entities"}`, false, 0},
		{"flood", http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`, true, 7 * time.Second},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &botServer{status: tt.status, reply: tt.reply}
			srv := httptest.NewServer(bot.handler(t))
			defer srv.Close()

			tg := NewTelegram(srv.URL, "TOKEN", time.Second, nil)
			err := tg.Publish(context.Background(), catalog.Channel{ChatID: "1"}, &content.Post{Text: "x"})
			if err == nil {
				t.Fatal("Publish() expected error")
			}
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("error type = %T", err)
			}
			if pe.Temporary != tt.temporary {
				t.Errorf("Temporary = %v, want %v", pe.Temporary, tt.temporary)
			}
			if pe.RetryAfter != tt.retryAfter {
				t.Errorf("RetryAfter = %v, want %v", pe.RetryAfter, tt.retryAfter)
			}
			if IsTemporary(err) != tt.temporary {
				t.Errorf("IsTemporary() = %v", IsTemporary(err))
			}
		})
	}
}

func TestTelegramNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tg := NewTelegram(url, "TOKEN", time.Second, nil)
	err := tg.SendMessage(context.Background(), "1", "x")
	if !IsTemporary(err) {
		t.Errorf("SendMessage() error = %v, want temporary", err)
	}
}

func TestIsTemporary(t *testing.T) {
	if IsTemporary(nil) {
		t.Error("IsTemporary(nil) = true")
	}
	if !IsTemporary(errors.New("boom")) {
		t.Error("unknown errors should be temporary")
	}
	if IsTemporary(&Error{Temporary: false, Message: "no"}) {
		t.Error("permanent error reported temporary")
	}
}
