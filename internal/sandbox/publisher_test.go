package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/foxzi/dealpost/internal/catalog"
	"github.com/foxzi/dealpost/internal/content"
	"github.com/foxzi/dealpost/internal/publish"
)

type mockPublisher struct {
	published []string
	err       error
}

func (m *mockPublisher) Publish(ctx context.Context, ch catalog.Channel, post *content.Post) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, ch.Name)
	return nil
}

func TestPublisherLiveMode(t *testing.T) {
	storage := openStorage(t)
	mock := &mockPublisher{}
	p := NewPublisher(mock, storage, nil)

	ch := catalog.Channel{Name: "@deals", ChatID: "-1", Mode: catalog.ModeLive}
	if err := p.Publish(context.Background(), ch, &content.Post{Text: "x"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(mock.published) != 1 {
		t.Errorf("expected real publish, got %v", mock.published)
	}

	stats, _ := storage.Stats(context.Background())
	if stats.Total != 0 {
		t.Errorf("live post captured: %d", stats.Total)
	}
}

func TestPublisherSandboxMode(t *testing.T) {
	storage := openStorage(t)
	mock := &mockPublisher{}
	p := NewPublisher(mock, storage, nil)

	ch := catalog.Channel{Name: "@staging", ChatID: "@staging", Mode: catalog.ModeSandbox}
	post := &content.Post{Channel: "@staging", Text: "hello", Link: "https://l"}
	if err := p.Publish(context.Background(), ch, post); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(mock.published) != 0 {
		t.Errorf("sandbox post reached real publisher")
	}

	list, _ := storage.List(context.Background(), ListFilter{})
	if len(list) != 1 || list[0].Text != "hello" || list[0].Channel != "@staging" {
		t.Errorf("captures = %v", list)
	}
}

func TestPublisherErrorSimulation(t *testing.T) {
	storage := openStorage(t)
	p := NewPublisher(&mockPublisher{}, storage, nil)
	p.SetErrorSimulation(true, 1)

	ch := catalog.Channel{Name: "@staging", Mode: catalog.ModeSandbox}
	err := p.Publish(context.Background(), ch, &content.Post{Text: "x"})
	var pe *publish.Error
	if !errors.As(err, &pe) {
		t.Fatalf("Publish() error = %v, want *publish.Error", err)
	}

	stats, _ := storage.Stats(context.Background())
	if stats.Failed != 1 {
		t.Errorf("expected failed capture, got %+v", stats)
	}
}
