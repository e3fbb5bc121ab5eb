package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/dealpost/internal/catalog"
	"github.com/foxzi/dealpost/internal/content"
	"github.com/foxzi/dealpost/internal/publish"
)

// Publisher wraps a real publisher and captures posts for channels in sandbox mode
type Publisher struct {
	real             publish.Publisher
	storage          *Storage
	logger           *slog.Logger
	simulateErrors   bool
	errorProbability float64 // 0.0 to 1.0
	now              func() time.Time
}

// NewPublisher creates a sandbox publisher
func NewPublisher(real publish.Publisher, storage *Storage, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		real:             real,
		storage:          storage,
		logger:           logger,
		errorProbability: 0.1,
		now:              time.Now,
	}
}

// SetErrorSimulation enables/disables random failures for sandbox channels
func (p *Publisher) SetErrorSimulation(enabled bool, probability float64) {
	p.simulateErrors = enabled
	if probability > 0 && probability <= 1 {
		p.errorProbability = probability
	}
}

// Publish routes the post based on the channel mode
func (p *Publisher) Publish(ctx context.Context, ch catalog.Channel, post *content.Post) error {
	if ch.Mode != catalog.ModeSandbox {
		return p.real.Publish(ctx, ch, post)
	}

	capture := &Capture{
		ID:         uuid.NewString(),
		Channel:    ch.Name,
		ChatID:     ch.ChatID,
		Text:       post.Text,
		ImageURL:   post.ImageURL,
		Link:       post.Link,
		CapturedAt: p.now(),
	}

	if p.simulateErrors && rand.Float64() < p.errorProbability {
		simulated := simulatedErrors[rand.Intn(len(simulatedErrors))]
		capture.SimulatedErr = simulated.Error()
		if err := p.storage.Save(ctx, capture); err != nil {
			p.logger.Error("sandbox: failed to save capture", "error", err)
		}
		return simulated
	}

	if err := p.storage.Save(ctx, capture); err != nil {
		return &publish.Error{Temporary: true, Message: fmt.Sprintf("sandbox: failed to save capture: %v", err)}
	}

	p.logger.Info("sandbox: post captured",
		"id", capture.ID,
		"channel", ch.Name,
		"link", post.Link,
	)
	return nil
}

var simulatedErrors = []*publish.Error{
	{Code: 429, Message: "Too Many Requests: retry after 5", Temporary: true, RetryAfter: 5 * time.Second},
	{Code: 502, Message: "Bad Gateway", Temporary: true},
	{Code: 403, Message: "Forbidden: bot is not a member of the channel chat"},
	{Code: 400, Message: "Bad Request: can't parse entities"},
}
