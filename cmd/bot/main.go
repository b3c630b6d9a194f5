package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"signalbot/internal/broker/bridge"
	"signalbot/internal/config"
	"signalbot/internal/engine"
	"signalbot/internal/logger"
	"signalbot/internal/news"
	"signalbot/internal/notify"
	tradesignal "signalbot/internal/signal"
	"signalbot/internal/status"
	"signalbot/internal/store"
	"syscall"
	"time"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trades, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("Не удалось открыть хранилище сделок.")
	}
	defer trades.Close()

	provider, err := tradesignal.DefaultRegistry().Build(cfg.Signal.Provider, cfg.Signal.Params)
	if err != nil {
		logger.WithError(err).Fatal("Не удалось создать провайдер сигналов.")
	}

	calendar := newCalendar(ctx, cfg, logger)

	alerts := notify.NewAsync(notify.FromConfig(cfg.Notify, logger), cfg.Notify.QueueSize, cfg.Notify.SendTimeout, logger)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = alerts.Close(closeCtx)
	}()

	var statusServer *status.Server
	deps := engine.Deps{
		Broker:   bridge.New(cfg.Broker.BaseUrl, cfg.Broker.ApiKey, cfg.Broker.Secret, cfg.Broker.Timeout, logger),
		Signals:  provider,
		Store:    trades,
		News:     calendar,
		Notifier: alerts,
		Logger:   logger,
	}
	if cfg.Status.Enabled {
		statusServer = status.NewServer(cfg.Status, calendar, logger)
		deps.Status = statusServer
	}

	eng, err := engine.New(deps, cfg.Engine, cfg.Runtime)
	if err != nil {
		logger.WithError(err).Fatal("Некорректная конфигурация движка.")
	}

	if statusServer != nil {
		statusServer.Bind(eng)
		go func() {
			if err := statusServer.Run(ctx); err != nil {
				logger.WithError(err).Error("Статус-сервер завершился с ошибкой.")
			}
		}()
	}

	if err := config.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.WithError(err).Warn("Изменённая конфигурация не применена.")
			return
		}
		if err := eng.ApplyConfig(config.FullPatch(next.Engine)); err != nil {
			logger.WithError(err).Warn("Изменённая конфигурация не применена.")
		}
	}); err != nil && !errors.Is(err, config.ErrNotLoaded) {
		logger.WithError(err).Warn("Отслеживание файла конфигурации недоступно.")
	}

	logger.Info("Бот запущен.")

	done := make(chan error, 1)
	go func() {
		done <- eng.Run(ctx)
	}()

	select {
	case <-sigCh:
		logger.Info("Получен сигнал остановки.")
		graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownGrace)
		if err := eng.Shutdown(graceCtx); err != nil {
			logger.WithError(err).Warn("Текущая итерация не завершилась вовремя, прерывание.")
		}
		graceCancel()
		cancel()
		<-done
	case err := <-done:
		switch {
		case errors.Is(err, engine.ErrHalted):
			logger.WithError(err).Error("Торговля остановлена риск-менеджером, требуется ручной перезапуск.")
		case err != nil:
			logger.WithError(err).Error("\"Двигатель\" завершился с ошибкой.")
		}
		cancel()
	}

	logger.Info("Бот остановлен.")
}

func newCalendar(ctx context.Context, cfg *config.Config, log *logger.Logger) *news.Calendar {
	var source news.Source
	switch cfg.News.Source {
	case "fmp":
		source = news.NewFMPSource(cfg.News.FMPBaseUrl, cfg.News.FMPKey)
	default:
		source = news.NewStaticSource(cfg.News.Events)
	}

	var cache news.EventCache
	if cfg.News.Redis.Enabled {
		redisCache, err := news.NewRedisCache(ctx, cfg.News.Redis)
		if err != nil {
			log.WithError(err).Warn("Redis недоступен, события не кэшируются.")
		} else {
			cache = redisCache
		}
	}

	return news.NewCalendar(source, cache, news.Options{
		Enabled:         cfg.Engine.NewsFilterEnabled,
		Buffer:          cfg.Engine.NewsBuffer(),
		RefreshInterval: cfg.News.RefreshInterval,
	}, log)
}
