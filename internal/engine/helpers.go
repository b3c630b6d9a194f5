package engine

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// withRetry runs fn under the runtime retry policy. Rate limit errors wait
// four steps' worth of backoff instead of one.
func withRetry[T any](ctx context.Context, e *Engine, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := e.rt.Retry.Attempts()
	for i := 0; i < attempts; i++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		wait := e.rt.Retry.Delay(i)
		if isRateLimitError(err) {
			wait = e.rt.Retry.Delay(i + 2)
		}
		e.logEntry().WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": i + 1,
			"wait":    wait.String(),
		}).Warn("Ошибка, повторяем запрос.")
		if err := sleepCtx(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func withRetryVoid(ctx context.Context, e *Engine, op string, fn func() error) error {
	_, err := withRetry(ctx, e, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Превышен лимит запросов.") || strings.Contains(msg, "429") || strings.Contains(msg, "10006")
}

// alert hands a message to the notifier. The notifier is expected to be
// asynchronous; errors are only logged.
func (e *Engine) alert(ctx context.Context, message string) {
	if err := e.notifier.SendAlert(ctx, message); err != nil {
		e.logEntry().WithError(err).Warn("Не удалось отправить уведомление.")
	}
}
