package config

import (
	"errors"

	"github.com/fsnotify/fsnotify"
)

var ErrNotLoaded = errors.New("конфигурация не загружена из файла")

// Watch re-reads the last loaded config file on every write and hands the
// result to onChange. Parse errors are passed through so the caller keeps
// the previous snapshot.
func Watch(onChange func(*Config, error)) error {
	watchMu.Lock()
	v := loaded
	watchMu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return ErrNotLoaded
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		cfg, err := parse(v)
		onChange(cfg, err)
	})
	v.WatchConfig()
	return nil
}
