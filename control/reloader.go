// control/reloader.go
// Author: momentics <momentics@gmail.com>
//
// Reloader re-applies settings when the viper-backed config file changes.
// Hooks are owned by the Reloader instance; there is no package-level state.

package control

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/momentics/hioload-http/internal/logging"
)

// ReloadHook receives the viper instance after it re-read the config.
type ReloadHook func(v *viper.Viper)

// Reloader dispatches config change notifications to hooks.
type Reloader struct {
	v   *viper.Viper
	log *zap.Logger

	mu    sync.Mutex
	hooks []ReloadHook
	once  sync.Once
}

// NewReloader wraps v. Call Watch to start following the config file.
func NewReloader(v *viper.Viper, log *zap.Logger) *Reloader {
	return &Reloader{v: v, log: logging.OrNop(log)}
}

// OnReload registers a hook. Hooks run in registration order.
func (r *Reloader) OnReload(fn ReloadHook) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Watch starts watching the file viper loaded. Repeated calls are no-ops.
func (r *Reloader) Watch() {
	r.once.Do(func() {
		r.v.OnConfigChange(func(e fsnotify.Event) {
			r.log.Info("config changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
			r.Trigger()
		})
		r.v.WatchConfig()
	})
}

// Trigger runs every hook synchronously.
func (r *Reloader) Trigger() {
	r.mu.Lock()
	hooks := append([]ReloadHook(nil), r.hooks...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(r.v)
	}
}

// LevelHook returns a hook that applies the log level stored under key.
// Unknown level names are logged and ignored.
func LevelHook(level zap.AtomicLevel, key string, log *zap.Logger) ReloadHook {
	log = logging.OrNop(log)
	return func(v *viper.Viper) {
		name := v.GetString(key)
		lvl, err := logging.ParseLevel(name)
		if err != nil {
			log.Warn("ignoring log level from config", zap.String("level", name), zap.Error(err))
			return
		}
		if level.Level() != lvl {
			level.SetLevel(lvl)
			log.Info("log level changed", zap.Stringer("level", lvl))
		}
	}
}
