// Package signal resolves trading decision providers by identifier and ships
// the built-in ones.
package signal

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/models"
	"sort"
	"strconv"
	"sync"
)

var ErrUnknownProvider = errors.New("неизвестный провайдер сигналов")

// Provider turns a market context into a trading decision. Decide may be
// slow; callers bound it with ctx.
type Provider interface {
	Name() string
	Decide(ctx context.Context, mc models.MarketContext) (models.Signal, error)
}

// Factory builds a Provider from free-form parameters taken from config.
type Factory func(params map[string]any) (Provider, error)

// Registry maps provider identifiers to factories. Providers are resolved
// once at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SMACrossID, NewSMACrossFromParams)
	r.Register(HTTPProviderID, NewHTTPProviderFromParams)
	return r
}

func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	r.factories[id] = f
	r.mu.Unlock()
}

func (r *Registry) Build(id string, params map[string]any) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	p, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("провайдер %s: %w", id, err)
	}
	return p, nil
}

// List returns the registered identifiers in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func floatParam(params map[string]any, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("параметр %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("параметр %s: неподдерживаемый тип %T", key, raw)
	}
}

func intParam(params map[string]any, key string, def int) (int, error) {
	f, err := floatParam(params, key, float64(def))
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
