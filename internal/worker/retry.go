package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shaiso/Taskflow/internal/domain"
)

const maxRetryDelay = 5 * time.Minute

// Backoff возвращает задержку перед повторной попыткой после attempt-й неудачи:
// initial * factor^(attempt-1) со случайным отклонением ±jitter.
func Backoff(attempt int, policy domain.RetryPolicy) time.Duration {
	b := newExponential(policy)

	delay := b.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func newExponential(policy domain.RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()

	// initialMs: 0 означает повтор без паузы; значение по умолчанию подставляет парсер.
	b.InitialInterval = time.Duration(policy.Backoff.InitialMs) * time.Millisecond
	if b.InitialInterval < 0 {
		b.InitialInterval = time.Duration(domain.DefaultBackoffInitialMs) * time.Millisecond
	}
	b.Multiplier = policy.Backoff.Factor
	if b.Multiplier < 1 {
		b.Multiplier = domain.DefaultBackoffFactor
	}
	b.RandomizationFactor = policy.Backoff.Jitter
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// sleep ждёт d или отмены ctx.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// storeRetry — повтор записи в хранилище после выполнения task.
// Статус уже вычислен; потерять его из-за кратковременного сбоя нельзя.
func (p *Processor) storeRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = p.storeWindow

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
