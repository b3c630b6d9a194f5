package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"signalbot/internal/broker"
	"signalbot/internal/config"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"signalbot/internal/notify"
	"signalbot/internal/signal"
	"signalbot/internal/store"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrHalted = errors.New("торговля остановлена риск-менеджером")

type NewsCalendar interface {
	IsTradingAllowed(ctx context.Context, now time.Time) bool
	SetEnabled(enabled bool)
	SetBuffer(buffer time.Duration)
}

type StatusSink interface {
	Publish(snapshot models.StatusSnapshot)
}

// Deps are the collaborators the engine drives. News, Notifier and Status are
// optional.
type Deps struct {
	Broker   broker.Gateway
	Signals  signal.Provider
	Store    store.TradeStore
	News     NewsCalendar
	Notifier notify.Notifier
	Status   StatusSink
	Logger   *logger.Logger
}

type Engine struct {
	broker   broker.Gateway
	signals  signal.Provider
	store    store.TradeStore
	news     NewsCalendar
	notifier notify.Notifier
	status   StatusSink
	log      *logger.Logger
	rt       config.RuntimeConfig
	session  string
	now      func() time.Time

	cfg     atomic.Pointer[config.EngineConfig]
	applyMu sync.Mutex
	state   atomic.Value
	stop    atomic.Bool
	running atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	finished chan struct{}

	// loop-owned
	symbols    map[string]*symbolState
	partial    map[int64]bool
	lastStatus time.Time

	snapMu   sync.RWMutex
	snapshot models.StatusSnapshot
}

func New(deps Deps, cfg config.EngineConfig, rt config.RuntimeConfig) (*Engine, error) {
	if deps.Broker == nil || deps.Signals == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: не заданы брокер, провайдер сигналов или хранилище", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if rt.HistoryBars <= 0 {
		rt.HistoryBars = 200
	}
	if rt.PartialLookback <= 0 {
		rt.PartialLookback = 30 * 24 * time.Hour
	}
	if rt.RecentTrades <= 0 {
		rt.RecentTrades = 20
	}

	e := &Engine{
		broker:   broker.Serialize(deps.Broker),
		signals:  deps.Signals,
		store:    deps.Store,
		news:     deps.News,
		notifier: deps.Notifier,
		status:   deps.Status,
		log:      deps.Logger,
		rt:       rt,
		session:  uuid.NewString(),
		now:      time.Now,
		symbols:  map[string]*symbolState{},
		partial:  map[int64]bool{},
		stopCh:   make(chan struct{}),
		finished: make(chan struct{}),
	}
	snapshot := cfg.Clone()
	e.cfg.Store(&snapshot)
	e.state.Store(StateStarting)
	e.syncNews(snapshot)
	return e, nil
}

// syncNews hands the cycle's news settings to the calendar, so a reload
// applied mid-cycle reaches it only with the next snapshot.
func (e *Engine) syncNews(cfg config.EngineConfig) {
	if e.news == nil {
		return
	}
	e.news.SetEnabled(cfg.NewsFilterEnabled)
	e.news.SetBuffer(cfg.NewsBuffer())
}

// Run blocks until Stop is called, ctx is cancelled or the risk guard halts
// trading. Only the initial connection failure and the halt are returned as
// errors. Run may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("движок уже запущен")
	}
	defer close(e.finished)

	e.setState(StateStarting)
	cfg := e.Config()
	e.logEntry().WithFields(logrus.Fields{
		"symbols":   cfg.Symbols,
		"timeframe": cfg.Timeframe,
		"provider":  e.signals.Name(),
	}).Info("Движок запускается.")

	if err := e.connect(ctx); err != nil {
		e.setState(StateStopped)
		e.alert(ctx, fmt.Sprintf("Не удалось подключиться к терминалу: %v", err))
		return fmt.Errorf("Не удалось подключиться к терминалу: %w", err)
	}
	if _, err := e.Reconcile(ctx); err != nil {
		e.logEntry().WithError(err).Error("Сверка при запуске не выполнена.")
		e.alert(ctx, fmt.Sprintf("Сверка при запуске не выполнена: %v", err))
	}

	e.setState(StateRunning)
	e.alert(ctx, fmt.Sprintf("Бот запущен. Символы: %v, таймфрейм %s.", cfg.Symbols, cfg.Timeframe))

	for {
		if e.stop.Load() || ctx.Err() != nil {
			e.setState(StateStopped)
			e.logEntry().Info("Движок остановлен.")
			e.alert(context.WithoutCancel(ctx), "Бот остановлен.")
			return nil
		}

		err := e.iterate(ctx)
		switch {
		case errors.Is(err, ErrHalted):
			e.setState(StateHalted)
			return ErrHalted
		case err != nil && ctx.Err() == nil:
			e.logEntry().WithError(err).Error("Ошибка в цикле.")
			e.alert(ctx, fmt.Sprintf("Ошибка в цикле: %v", err))
			e.pause(ctx, e.rt.ErrorDelay)
			continue
		}

		e.pause(ctx, e.rt.LoopInterval)
	}
}

// Stop asks the loop to exit once the current iteration is complete.
func (e *Engine) Stop() {
	e.stop.Store(true)
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Shutdown stops the loop and waits for Run to return. The broker calls of
// the iteration in progress keep their context, so an order being placed is
// still persisted. Shutdown returns ctx.Err() when the wait runs out.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()
	if !e.running.Load() {
		return nil
	}
	select {
	case <-e.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-e.stopCh:
	case <-timer.C:
	}
}

func (e *Engine) State() State {
	return e.state.Load().(State)
}

func (e *Engine) setState(s State) {
	if prev := e.State(); prev != s {
		e.logEntry().WithFields(logrus.Fields{"from": prev, "to": s}).Info("Смена состояния.")
	}
	e.state.Store(s)
}

// Config returns the current snapshot. Callers must not modify it.
func (e *Engine) Config() config.EngineConfig {
	return *e.cfg.Load()
}

// ApplyConfig merges p into the current config. The running cycle keeps its
// snapshot; the next one picks up the result. An invalid result leaves the config untouched.
func (e *Engine) ApplyConfig(p config.EnginePatch) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	next := e.Config().Apply(p)
	if err := next.Validate(); err != nil {
		e.logEntry().WithError(err).Warn("Новая конфигурация отклонена.")
		return err
	}
	e.cfg.Store(&next)
	e.logEntry().WithField("config", fmt.Sprintf("%+v", next)).Info("Конфигурация обновлена.")
	return nil
}

func (e *Engine) Snapshot() models.StatusSnapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snapshot
}

func (e *Engine) connect(ctx context.Context) error {
	return withRetryVoid(ctx, e, "connect", func() error {
		return e.broker.Connect(ctx)
	})
}

func (e *Engine) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logEntry().WithField("stack", string(debug.Stack())).Error("Паника в цикле.")
			err = fmt.Errorf("паника в цикле: %v", r)
		}
	}()

	if !e.broker.IsConnected(ctx) {
		e.setState(StateReconnecting)
		e.logEntry().Warn("Соединение с терминалом потеряно, переподключение.")
		if err := e.connect(ctx); err != nil {
			e.logEntry().WithError(err).Error("Переподключение не удалось.")
			e.alert(ctx, fmt.Sprintf("Переподключение не удалось: %v", err))
			e.pause(ctx, e.rt.ReconnectDelay)
			return nil
		}
		e.alert(ctx, "Соединение с терминалом восстановлено.")
		if _, err := e.Reconcile(ctx); err != nil {
			e.logEntry().WithError(err).Error("Сверка после переподключения не выполнена.")
		}
		e.setState(StateRunning)
	}

	cfg := e.Config()
	e.syncNews(cfg)
	cycle, err := e.loadCycle(ctx)
	if err != nil {
		return err
	}

	if decision := Evaluate(cycle.risk, cfg); decision.Halt {
		e.halt(ctx, decision)
		return ErrHalted
	}

	for _, symbol := range cfg.Symbols {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.processSymbolSafe(ctx, cfg, symbol, &cycle); err != nil {
			e.componentEntry("engine", symbol).WithError(err).Error("Ошибка обработки символа.")
			e.alert(ctx, fmt.Sprintf("Ошибка обработки %s: %v", symbol, err))
		}
	}

	e.publishStatus(ctx, cfg, cycle)
	return nil
}

func (e *Engine) processSymbolSafe(ctx context.Context, cfg config.EngineConfig, symbol string, cycle *cycleInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.componentEntry("engine", symbol).WithField("stack", string(debug.Stack())).Error("Паника при обработке символа.")
			err = fmt.Errorf("паника: %v", r)
		}
	}()
	return e.processSymbol(ctx, cfg, symbol, cycle)
}

func (e *Engine) symbol(symbol string) *symbolState {
	st, ok := e.symbols[symbol]
	if !ok {
		st = newSymbolState()
		e.symbols[symbol] = st
	}
	return st
}
