package notionsync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/retry"
)

// CallOptions bounds every Notion call made by the resolver, writer and intake.
type CallOptions struct {
	Policy  retry.Policy
	Timeout time.Duration
}

func (o CallOptions) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, o.Policy, isRetryable, func(ctx context.Context, attempt int) error {
		if o.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.Timeout)
			defer cancel()
		}
		return fn(ctx)
	})
}

// isRetryable treats rate limiting, conflicts, server errors and transport
// failures as transient. Other API rejections will not change on retry.
func isRetryable(err error) bool {
	if errors.Is(err, domain.ErrFatalConfiguration) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests, apiErr.Status == http.StatusConflict:
			return true
		case apiErr.Status >= 500:
			return true
		default:
			return false
		}
	}
	return true
}
