package news

import (
	"context"
	"signalbot/internal/config"
	"time"
)

type StaticSource struct {
	events []Event
}

func NewStaticSource(events []config.StaticEvent) *StaticSource {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		out = append(out, Event{
			Name:     ev.Name,
			Time:     ev.Time.UTC(),
			Currency: ev.Currency,
			Impact:   "High",
			Source:   "static",
		})
	}
	return &StaticSource{events: out}
}

func (s *StaticSource) Name() string {
	return "static"
}

func (s *StaticSource) Fetch(_ context.Context, from, to time.Time) ([]Event, error) {
	var out []Event
	for _, ev := range s.events {
		if !ev.Time.Before(from) && ev.Time.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}
