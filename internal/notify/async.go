package notify

import (
	"context"
	"signalbot/internal/logger"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Async delivers alerts from a bounded queue on a single worker. SendAlert
// never blocks: a full queue drops the alert.
type Async struct {
	inner   Notifier
	log     *logger.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan string
	done   chan struct{}
}

var _ Notifier = (*Async)(nil)

func NewAsync(inner Notifier, queueSize int, timeout time.Duration, log *logger.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &Async{
		inner:   inner,
		log:     log,
		timeout: timeout,
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) logEntry() *logrus.Entry {
	return a.log.WithComponent("notify")
}

func (a *Async) SendAlert(_ context.Context, message string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- message:
	default:
		a.logEntry().WithField("message", message).Warn("Очередь уведомлений переполнена, уведомление пропущено.")
	}
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for msg := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.inner.SendAlert(ctx, msg); err != nil {
			a.logEntry().WithError(err).Warn("Не удалось отправить уведомление.")
		}
		cancel()
	}
}

// Close stops accepting alerts and waits for the queue to drain or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
