package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/dealpost/internal/catalog"
	"github.com/foxzi/dealpost/internal/content"
)

// Publisher delivers prepared content to a channel
type Publisher interface {
	Publish(ctx context.Context, ch catalog.Channel, post *content.Post) error
}

// Error represents a publish failure with type information
type Error struct {
	Temporary  bool
	Code       int
	RetryAfter time.Duration
	Message    string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	return e.Message
}

// IsTemporary reports whether err is a failure worth retrying.
// Errors of unknown type are treated as temporary.
func IsTemporary(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Temporary
	}
	return err != nil
}
