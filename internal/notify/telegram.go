package notify

import (
	"context"
	"fmt"
)

// MessageSender sends a direct chat message
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// TelegramNotifier sends notifications as direct messages
type TelegramNotifier struct {
	sender MessageSender
}

// NewTelegramNotifier creates a Telegram notifier
func NewTelegramNotifier(sender MessageSender) *TelegramNotifier {
	return &TelegramNotifier{sender: sender}
}

func (n *TelegramNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	if to.TelegramID == "" {
		return nil
	}
	text := msg.Text
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + msg.Text
	}
	if err := n.sender.SendMessage(ctx, to.TelegramID, text); err != nil {
		return fmt.Errorf("telegram notification failed: %w", err)
	}
	return nil
}
