// Package logging wraps go.uber.org/zap behind a package-level
// get/set default logger, so driver/proactor/runtime code can log
// through a single shared *zap.Logger without threading one through
// every constructor.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	def *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	def = l
}

// L returns the current default logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return def
}

// SetLogger overrides the default logger, e.g. to a development config
// with caller info, or zap.NewNop() to silence the module entirely.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	def = l
}

// Op produces the zap field used consistently across driver/proactor/
// runtime logging for which opcode an entry concerns.
func Op(name string) zap.Field { return zap.String("op", name) }

// UserData tags a log line with the completion correlation key
// (user_data).
func UserData(ud uint64) zap.Field { return zap.Uint64("user_data", ud) }

// Err is a thin alias kept so call sites read "logging.Err(err)"
// rather than importing zap directly just for this one field.
func Err(err error) zap.Field { return zap.Error(err) }
