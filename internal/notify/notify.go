package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/foxzi/dealpost/internal/catalog"
)

// ErrNoRecipient is returned when neither the owner nor a fallback admin is known
var ErrNoRecipient = errors.New("no owner and no fallback admin configured")

// Message is an admin notification
type Message struct {
	Subject string
	Text    string
}

// Recipient is a resolved notification target
type Recipient struct {
	UserID     string
	TelegramID string
	Email      string
}

// Notifier delivers a message to a recipient. Notifiers ignore recipients
// they have no address for.
type Notifier interface {
	Notify(ctx context.Context, to Recipient, msg Message) error
}

// Router resolves campaign owners and fans out to notifiers
type Router struct {
	catalog   *catalog.Catalog
	notifiers []Notifier
	logger    *slog.Logger
}

// NewRouter creates a notification router
func NewRouter(cat *catalog.Catalog, logger *slog.Logger, notifiers ...Notifier) *Router {
	return &Router{catalog: cat, notifiers: notifiers, logger: logger}
}

// Resolve returns the owner's contact, or the fallback admin when the owner is unknown
func (r *Router) Resolve(ownerID string) (Recipient, error) {
	userID := ownerID
	if userID == "" {
		admin, ok := r.catalog.FallbackAdmin()
		if !ok {
			return Recipient{}, ErrNoRecipient
		}
		userID = admin
	}

	rcpt := Recipient{UserID: userID, TelegramID: userID}
	if o, ok := r.catalog.Owner(userID); ok {
		if o.TelegramID != "" {
			rcpt.TelegramID = o.TelegramID
		}
		rcpt.Email = o.Email
	}
	return rcpt, nil
}

// Notify sends msg to the campaign owner
func (r *Router) Notify(ctx context.Context, ownerID string, msg Message) error {
	rcpt, err := r.Resolve(ownerID)
	if err != nil {
		return err
	}

	var errs []error
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, rcpt, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify %s: %w", rcpt.UserID, errors.Join(errs...))
	}
	return nil
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	n.logger.Warn("notification",
		"recipient", to.UserID,
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return nil
}
