package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"paycore/internal/config"
	"paycore/internal/domain"
)

// withGatewayRetry runs op under the gateway retry policy: each attempt
// bounded by the configured timeout, transient errors retried with
// exponential backoff up to the attempt budget. Fatal errors (rejection,
// authentication) return immediately.
func withGatewayRetry(ctx context.Context, cfg config.Gateway, reference string, op func(ctx context.Context) error) error {
	backoff := cfg.RetryBase
	var err error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err = op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !domain.RetryableGatewayError(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		zap.L().Warn("gateway call failed, retrying",
			zap.String("reference", reference),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
