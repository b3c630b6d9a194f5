package news

import (
	"context"
	"signalbot/internal/logger"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Event struct {
	Name     string    `json:"name"`
	Time     time.Time `json:"time"`
	Country  string    `json:"country,omitempty"`
	Currency string    `json:"currency,omitempty"`
	Impact   string    `json:"impact"`
	Source   string    `json:"source"`
}

type Source interface {
	Name() string
	Fetch(ctx context.Context, from, to time.Time) ([]Event, error)
}

type EventCache interface {
	Get(ctx context.Context, day time.Time) ([]Event, bool, error)
	Set(ctx context.Context, day time.Time, events []Event) error
}

type Options struct {
	Enabled         bool
	Buffer          time.Duration
	RefreshInterval time.Duration
}

type Calendar struct {
	source Source
	cache  EventCache
	log    *logger.Logger
	now    func() time.Time

	mu          sync.Mutex
	enabled     bool
	buffer      time.Duration
	refresh     time.Duration
	events      []Event
	loadedFrom  time.Time
	loadedTo    time.Time
	lastAttempt time.Time
}

func NewCalendar(source Source, cache EventCache, opts Options, log *logger.Logger) *Calendar {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Hour
	}
	return &Calendar{
		source:  source,
		cache:   cache,
		log:     log,
		now:     time.Now,
		enabled: opts.Enabled,
		buffer:  opts.Buffer,
		refresh: opts.RefreshInterval,
	}
}

func (c *Calendar) logEntry() *logrus.Entry {
	return c.log.WithComponent("news")
}

func (c *Calendar) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

func (c *Calendar) SetBuffer(buffer time.Duration) {
	c.mu.Lock()
	c.buffer = buffer
	c.mu.Unlock()
}

// IsTradingAllowed reports false while now lies within the buffer window
// around any known high-impact event. Both window edges are included.
func (c *Calendar) IsTradingAllowed(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled {
		return true
	}

	c.ensureFresh(ctx, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		start := ev.Time.Add(-c.buffer)
		end := ev.Time.Add(c.buffer)
		if !now.Before(start) && !now.After(end) {
			c.logEntry().WithFields(logrus.Fields{
				"event":    ev.Name,
				"at":       ev.Time.Format("15:04 MST"),
				"currency": ev.Currency,
			}).Warn("Торговля приостановлена из-за новости.")
			return false
		}
	}
	return true
}

func (c *Calendar) NextEvent(ctx context.Context, now time.Time) (Event, bool) {
	c.ensureFresh(ctx, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Time.After(now) {
			return ev, true
		}
	}
	return Event{}, false
}

func (c *Calendar) ensureFresh(ctx context.Context, now time.Time) {
	c.mu.Lock()
	from, to := window(now, c.buffer)
	stale := !from.Equal(c.loadedFrom) || !to.Equal(c.loadedTo) || now.Sub(c.lastAttempt) >= c.refresh
	if stale {
		c.lastAttempt = now
	}
	c.mu.Unlock()
	if !stale || c.source == nil {
		return
	}

	events, err := c.loadRange(ctx, from, to)
	if err != nil {
		c.logEntry().WithError(err).Warn("Не удалось обновить календарь новостей, используем последние известные события.")
		return
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })

	c.mu.Lock()
	c.events = events
	c.loadedFrom, c.loadedTo = from, to
	c.mu.Unlock()

	c.logEntry().WithFields(logrus.Fields{
		"events": len(events),
		"source": c.source.Name(),
	}).Info("Календарь новостей обновлён.")
}

// window spans whole UTC days so that every event whose buffer can reach now
// is loaded, including events just across midnight.
func window(now time.Time, buffer time.Duration) (time.Time, time.Time) {
	return startOfDay(now.Add(-buffer)), startOfDay(now.Add(buffer)).Add(24 * time.Hour)
}

func (c *Calendar) loadRange(ctx context.Context, from, to time.Time) ([]Event, error) {
	var out []Event
	for day := from; day.Before(to); day = day.Add(24 * time.Hour) {
		events, err := c.load(ctx, day)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func (c *Calendar) load(ctx context.Context, day time.Time) ([]Event, error) {
	if c.cache != nil {
		events, ok, err := c.cache.Get(ctx, day)
		if err != nil {
			c.logEntry().WithError(err).Warn("Кэш новостей недоступен.")
		} else if ok {
			return events, nil
		}
	}

	fetched, err := c.source.Fetch(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(fetched))
	for _, ev := range fetched {
		if !ev.Time.Before(day) && ev.Time.Before(day.Add(24*time.Hour)) {
			events = append(events, ev)
		}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, day, events); err != nil {
			c.logEntry().WithError(err).Warn("Не удалось сохранить события в кэш.")
		}
	}
	return events, nil
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
