package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Broker  BrokerConfig
	Engine  EngineConfig
	Runtime RuntimeConfig
	Storage StorageConfig
	News    NewsConfig
	Notify  NotifyConfig
	Status  StatusConfig
	Signal  SignalConfig
}

type BrokerConfig struct {
	BaseUrl string
	ApiKey  string
	Secret  string
	Timeout time.Duration
}

type RuntimeConfig struct {
	Log             LogConfig
	Retry           RetryPolicy
	LoopInterval    time.Duration
	ErrorDelay      time.Duration
	ReconnectDelay  time.Duration
	SettleDelay     time.Duration
	StatusInterval  time.Duration
	SignalTimeout   time.Duration
	HistoryBars     int
	PartialLookback time.Duration
	RecentTrades    int
	ShutdownGrace   time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
}

type StorageConfig struct {
	Driver string
	Path   string
	DSN    string
}

type NewsConfig struct {
	Source          string
	FMPKey          string
	FMPBaseUrl      string
	RefreshInterval time.Duration
	Redis           RedisConfig
	Events          []StaticEvent
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type StaticEvent struct {
	Name     string
	Time     time.Time
	Currency string
}

type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID string
	TelegramApiUrl string
	QueueSize      int
	SendTimeout    time.Duration
}

type StatusConfig struct {
	Enabled      bool
	Listen       string
	CorsOrigins  []string
	PushInterval time.Duration
	AuthSecret   string
	PasswordHash string
	TokenTTL     time.Duration
}

type SignalConfig struct {
	Provider string
	Params   map[string]any
}

var (
	watchMu sync.Mutex
	loaded  *viper.Viper
)

func Load() (*Config, error) {
	return LoadFile(os.Getenv("SIGNALBOT_CONFIG"))
}

func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Не удалось прочитать конфигурацию: %w", err)
		}
	}

	cfg, err := parse(v)
	if err != nil {
		return nil, err
	}

	watchMu.Lock()
	loaded = v
	watchMu.Unlock()

	return cfg, nil
}

func parse(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Broker = BrokerConfig{
		BaseUrl: v.GetString("broker.base_url"),
		ApiKey:  envSub(v, "broker.api_key"),
		Secret:  envSub(v, "broker.secret"),
		Timeout: v.GetDuration("broker.timeout"),
	}

	cfg.Engine = EngineConfig{
		Symbols:             normalizeSymbols(v.GetStringSlice("engine.symbols")),
		Timeframe:           v.GetString("engine.timeframe"),
		SizingPolicy:        SizingPolicy(strings.ToLower(v.GetString("engine.sizing_policy"))),
		LotSize:             v.GetFloat64("engine.lot_size"),
		RiskPercent:         v.GetFloat64("engine.risk_percent"),
		MinVolume:           v.GetFloat64("engine.min_volume"),
		MaxVolume:           v.GetFloat64("engine.max_volume"),
		MaxSpread:           v.GetFloat64("engine.max_spread"),
		MaxDailyLoss:        v.GetFloat64("engine.max_daily_loss"),
		MinEquity:           v.GetFloat64("engine.min_equity"),
		MinConfidence:       v.GetFloat64("engine.min_confidence"),
		NewsFilterEnabled:   v.GetBool("engine.news_filter"),
		NewsBufferMinutes:   v.GetInt("engine.news_buffer"),
		TrailingEnabled:     v.GetBool("engine.trailing_enabled"),
		TrailingDistance:    v.GetFloat64("engine.trailing_distance"),
		TrailingActivation:  v.GetFloat64("engine.trailing_activation"),
		PartialCloseEnabled: v.GetBool("engine.partial_close_enabled"),
		PartialTrigger:      v.GetFloat64("engine.tp1_distance"),
		PartialPercent:      v.GetFloat64("engine.partial_close_percent"),
		Magic:               v.GetInt64("engine.magic"),
		Deviation:           v.GetInt("engine.deviation"),
	}

	cfg.Runtime = RuntimeConfig{
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
		Retry: RetryPolicy{
			MaxAttempts: v.GetInt("runtime.retry.max_attempts"),
			BaseDelay:   v.GetDuration("runtime.retry.base_delay"),
			MaxDelay:    v.GetDuration("runtime.retry.max_delay"),
			Multiplier:  v.GetFloat64("runtime.retry.multiplier"),
		},
		LoopInterval:    v.GetDuration("runtime.loop_interval"),
		ErrorDelay:      v.GetDuration("runtime.error_delay"),
		ReconnectDelay:  v.GetDuration("runtime.reconnect_delay"),
		SettleDelay:     v.GetDuration("runtime.settle_delay"),
		StatusInterval:  v.GetDuration("runtime.status_interval"),
		SignalTimeout:   v.GetDuration("runtime.signal_timeout"),
		HistoryBars:     v.GetInt("runtime.history_bars"),
		PartialLookback: v.GetDuration("runtime.partial_lookback"),
		RecentTrades:    v.GetInt("runtime.recent_trades"),
		ShutdownGrace:   v.GetDuration("runtime.shutdown_grace"),
	}

	cfg.Storage = StorageConfig{
		Driver: strings.ToLower(v.GetString("storage.driver")),
		Path:   v.GetString("storage.path"),
		DSN:    envSub(v, "storage.dsn"),
	}

	events, err := parseEvents(v)
	if err != nil {
		return nil, err
	}
	cfg.News = NewsConfig{
		Source:          strings.ToLower(v.GetString("news.source")),
		FMPKey:          envSub(v, "news.fmp_key"),
		FMPBaseUrl:      v.GetString("news.fmp_base_url"),
		RefreshInterval: v.GetDuration("news.refresh_interval"),
		Redis: RedisConfig{
			Enabled:  v.GetBool("news.redis.enabled"),
			Addr:     v.GetString("news.redis.addr"),
			Password: envSub(v, "news.redis.password"),
			DB:       v.GetInt("news.redis.db"),
			TTL:      v.GetDuration("news.redis.ttl"),
		},
		Events: events,
	}

	cfg.Notify = NotifyConfig{
		TelegramToken:  envSub(v, "notify.telegram_token"),
		TelegramChatID: envSub(v, "notify.telegram_chat_id"),
		TelegramApiUrl: v.GetString("notify.telegram_api_url"),
		QueueSize:      v.GetInt("notify.queue_size"),
		SendTimeout:    v.GetDuration("notify.send_timeout"),
	}

	cfg.Status = StatusConfig{
		Enabled:      v.GetBool("status.enabled"),
		Listen:       v.GetString("status.listen"),
		CorsOrigins:  v.GetStringSlice("status.cors_origins"),
		PushInterval: v.GetDuration("status.push_interval"),
		AuthSecret:   envSub(v, "status.auth_secret"),
		PasswordHash: envSub(v, "status.password_hash"),
		TokenTTL:     v.GetDuration("status.token_ttl"),
	}

	cfg.Signal = SignalConfig{
		Provider: v.GetString("signal.provider"),
		Params:   v.GetStringMap("signal.params"),
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.timeout", 15*time.Second)

	v.SetDefault("engine.symbols", []string{"XAUUSD"})
	v.SetDefault("engine.timeframe", "M15")
	v.SetDefault("engine.sizing_policy", string(SizingFixed))
	v.SetDefault("engine.lot_size", 0.01)
	v.SetDefault("engine.risk_percent", 1.0)
	v.SetDefault("engine.min_volume", 0.01)
	v.SetDefault("engine.max_volume", 10.0)
	v.SetDefault("engine.max_spread", 50)
	v.SetDefault("engine.max_daily_loss", 500.0)
	v.SetDefault("engine.min_equity", 0.0)
	v.SetDefault("engine.news_filter", false)
	v.SetDefault("engine.news_buffer", 30)
	v.SetDefault("engine.trailing_distance", 50)
	v.SetDefault("engine.tp1_distance", 50)
	v.SetDefault("engine.partial_close_percent", 50)
	v.SetDefault("engine.magic", 123456)
	v.SetDefault("engine.deviation", 20)

	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.file", "stdout")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 30)
	v.SetDefault("runtime.retry.max_attempts", 5)
	v.SetDefault("runtime.retry.base_delay", time.Second)
	v.SetDefault("runtime.retry.max_delay", 30*time.Second)
	v.SetDefault("runtime.retry.multiplier", 2.0)
	v.SetDefault("runtime.loop_interval", 500*time.Millisecond)
	v.SetDefault("runtime.error_delay", 5*time.Second)
	v.SetDefault("runtime.reconnect_delay", 10*time.Second)
	v.SetDefault("runtime.settle_delay", 500*time.Millisecond)
	v.SetDefault("runtime.status_interval", time.Second)
	v.SetDefault("runtime.signal_timeout", 5*time.Second)
	v.SetDefault("runtime.history_bars", 300)
	v.SetDefault("runtime.partial_lookback", 30*24*time.Hour)
	v.SetDefault("runtime.recent_trades", 20)
	v.SetDefault("runtime.shutdown_grace", 30*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "data/trades.db")

	v.SetDefault("news.source", "static")
	v.SetDefault("news.fmp_base_url", "https://financialmodelingprep.com")
	v.SetDefault("news.refresh_interval", time.Hour)
	v.SetDefault("news.redis.addr", "localhost:6379")
	v.SetDefault("news.redis.ttl", 24*time.Hour)

	v.SetDefault("notify.telegram_api_url", "https://api.telegram.org")
	v.SetDefault("notify.queue_size", 64)
	v.SetDefault("notify.send_timeout", 10*time.Second)

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.listen", "127.0.0.1:8090")
	v.SetDefault("status.cors_origins", []string{"*"})
	v.SetDefault("status.push_interval", time.Second)
	v.SetDefault("status.token_ttl", 12*time.Hour)

	v.SetDefault("signal.provider", "sma_cross")
}

func parseEvents(v *viper.Viper) ([]StaticEvent, error) {
	raw, ok := v.Get("news.events").([]any)
	if !ok {
		return nil, nil
	}
	events := make([]StaticEvent, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		currency, _ := m["currency"].(string)
		var at time.Time
		switch ts := m["time"].(type) {
		case time.Time:
			at = ts
		case string:
			parsed, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, fmt.Errorf("Некорректное время события %q: %w", name, err)
			}
			at = parsed
		default:
			return nil, fmt.Errorf("Не указано время события %q", name)
		}
		events = append(events, StaticEvent{Name: name, Time: at.UTC(), Currency: currency})
	}
	return events, nil
}

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
