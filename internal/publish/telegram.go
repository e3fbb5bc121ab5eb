package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/dealpost/internal/catalog"
	"github.com/foxzi/dealpost/internal/content"
)

// DefaultAPIURL is the Telegram Bot API base URL
const DefaultAPIURL = "https://api.telegram.org"

// Telegram publishes posts through the Telegram Bot API
type Telegram struct {
	apiURL string
	token  string
	client *http.Client
	logger *slog.Logger
}

// NewTelegram creates a Bot API client
func NewTelegram(apiURL, token string, timeout time.Duration, logger *slog.Logger) *Telegram {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Telegram{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type apiResult struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// Publish sends a photo with caption when the post has an image,
// otherwise a text message
func (t *Telegram) Publish(ctx context.Context, ch catalog.Channel, post *content.Post) error {
	if post.ImageURL != "" {
		return t.call(ctx, "sendPhoto", map[string]any{
			"chat_id":    ch.ChatID,
			"photo":      post.ImageURL,
			"caption":    post.Text,
			"parse_mode": "Markdown",
		})
	}
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id":    ch.ChatID,
		"text":       post.Text,
		"parse_mode": "Markdown",
	})
}

// SendMessage sends a plain text message to a chat
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) error {
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Message: fmt.Sprintf("failed to encode request: %v", err)}
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// Network failures and timeouts are retried on the next tick
		return &Error{Temporary: true, Message: fmt.Sprintf("%s failed: %v", method, redact(err.Error(), t.token))}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Temporary: true, Message: fmt.Sprintf("failed to read %s response: %v", method, err)}
	}

	var res apiResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return &Error{
			Temporary: resp.StatusCode >= 500,
			Code:      resp.StatusCode,
			Message:   fmt.Sprintf("invalid %s response", method),
		}
	}
	if res.OK {
		return nil
	}

	code := res.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}
	perr := &Error{
		Code:      code,
		Message:   res.Description,
		Temporary: code == http.StatusTooManyRequests || code >= 500,
	}
	if res.Parameters != nil && res.Parameters.RetryAfter > 0 {
		perr.RetryAfter = time.Duration(res.Parameters.RetryAfter) * time.Second
		perr.Temporary = true
	}

	if t.logger != nil {
		t.logger.Debug("bot api call failed",
			"method", method,
			"code", perr.Code,
			"description", perr.Message,
		)
	}
	return perr
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
