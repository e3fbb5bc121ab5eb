package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/foxzi/dealpost/internal/catalog"
)

type recordingNotifier struct {
	got []Recipient
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	r.got = append(r.got, to)
	return r.err
}

type recordingSender struct {
	chatID string
	text   string
}

func (r *recordingSender) SendMessage(ctx context.Context, chatID, text string) error {
	r.chatID = chatID
	r.text = text
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterResolve(t *testing.T) {
	cat := catalog.Static(&catalog.Data{
		Admins: []string{"900"},
		Owners: map[string]catalog.Owner{
			"42":  {TelegramID: "4242", Email: "owner@example.com"},
			"900": {Email: "admin@example.com"},
		},
	})
	r := NewRouter(cat, testLogger())

	tests := []struct {
		owner string
		want  Recipient
	}{
		{"42", Recipient{UserID: "42", TelegramID: "4242", Email: "owner@example.com"}},
		{"7", Recipient{UserID: "7", TelegramID: "7"}},
		{"", Recipient{UserID: "900", TelegramID: "900", Email: "admin@example.com"}},
	}
	for _, tt := range tests {
		got, err := r.Resolve(tt.owner)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tt.owner, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %+v, want %+v", tt.owner, got, tt.want)
		}
	}

	empty := NewRouter(catalog.Static(nil), testLogger())
	if _, err := empty.Resolve(""); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Resolve() error = %v, want ErrNoRecipient", err)
	}
	if err := empty.Notify(context.Background(), "", Message{Text: "x"}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Notify() error = %v, want ErrNoRecipient", err)
	}
}

func TestRouterNotify(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("smtp down")}
	r := NewRouter(catalog.Static(nil), testLogger(), ok, failing, NewLogNotifier(testLogger()))

	err := r.Notify(context.Background(), "42", Message{Subject: "s", Text: "t"})
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Errorf("Notify() error = %v", err)
	}
	if len(ok.got) != 1 || len(failing.got) != 1 {
		t.Error("every notifier should be tried")
	}
}

func TestTelegramNotifier(t *testing.T) {
	sender := &recordingSender{}
	n := NewTelegramNotifier(sender)

	if err := n.Notify(context.Background(), Recipient{TelegramID: "42"}, Message{Subject: "Publish failed", Text: "details"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if sender.chatID != "42" || sender.text != "Publish failed\n\ndetails" {
		t.Errorf("sent %q to %q", sender.text, sender.chatID)
	}

	sender.chatID = ""
	if err := n.Notify(context.Background(), Recipient{Email: "x@example.com"}, Message{Text: "x"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if sender.chatID != "" {
		t.Error("recipient without telegram id should be skipped")
	}
}
