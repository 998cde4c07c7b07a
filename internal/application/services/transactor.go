package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
	"github.com/zatekoja/careflow/pkg/retry"
)

// DefaultTxMaxAttempts bounds how often a conflicting transaction is retried
const DefaultTxMaxAttempts = 5

// Transactor runs directory transactions, retrying the whole unit of work
// when another writer committed first.
type Transactor struct {
	dir     repositories.Directory
	retry   retry.Config
	metrics *observability.Metrics
}

// NewTransactor creates a transactor over dir
func NewTransactor(dir repositories.Directory, maxAttempts int, metrics *observability.Metrics) *Transactor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultTxMaxAttempts
	}
	return &Transactor{
		dir:     dir,
		retry:   retry.TransactionConfig(maxAttempts, apperrors.IsContention),
		metrics: metrics,
	}
}

// Run executes fn in a transaction. fn may run more than once and must not
// have side effects outside tx.
func (t *Transactor) Run(ctx context.Context, operation string, fn func(ctx context.Context, tx repositories.DirectoryTx) error) error {
	start := time.Now()
	attempts := 0

	err := retry.DoWithLog(ctx, t.retry, operation, func() error {
		attempts++
		return t.dir.WithTx(ctx, fn)
	}, func(attempt int, err error, nextDelay time.Duration) {
		observability.RecordContentionRetry(ctx, t.metrics, operation)
		observability.LoggerFromContext(ctx).Debug().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("next_delay", nextDelay).
			Msg("retrying transaction after write conflict")
	})

	observability.RecordTxDuration(ctx, t.metrics, operation, attempts, time.Since(start))
	return t.translate(operation, attempts, err)
}

// View runs fn against a read-only snapshot
func (t *Transactor) View(ctx context.Context, fn func(ctx context.Context, r repositories.DirectoryReader) error) error {
	if err := t.dir.View(ctx, fn); err != nil {
		return t.translate("view", 1, err)
	}
	return nil
}

func (t *Transactor) translate(operation string, attempts int, err error) error {
	switch {
	case err == nil:
		return nil
	case apperrors.IsType(err, apperrors.ErrorTypeTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.NewTimeoutError(fmt.Sprintf("%s aborted", operation), err)
	case apperrors.IsContention(err):
		return apperrors.NewContentionError(fmt.Sprintf("%s did not commit after %d attempts", operation, attempts), err)
	}
	return err
}

// eventPublisher publishes committed changes when an event bus is configured
type eventPublisher struct {
	bus providers.EventBus
}

const publishTimeout = 2 * time.Second

func (p *eventPublisher) publish(ctx context.Context, event *entities.ResourceEvent, channels ...string) {
	if p.bus == nil || event == nil {
		return
	}

	// The change is committed; a caller cancelling now must not drop the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	logger := observability.LoggerFromContext(ctx)
	for _, channel := range append([]string{providers.EventChannelResourceUpdates}, channels...) {
		if err := p.bus.Publish(pubCtx, channel, event); err != nil {
			logger.Warn().Err(err).Str("channel", channel).Str("event_type", string(event.EventType)).Msg("failed to publish resource event")
		}
	}
}
