package logging

import (
	"sync"

	"github.com/pion/logging"
)

var (
	mu            sync.RWMutex
	loggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()
)

// NewLogger returns a leveled logger for scope from the current factory.
func NewLogger(scope string) logging.LeveledLogger {
	mu.RLock()
	defer mu.RUnlock()
	return loggerFactory.NewLogger(scope)
}

// SetLoggerFactory replaces the factory used by NewLogger. Loggers created
// before the call keep their previous factory.
func SetLoggerFactory(f logging.LoggerFactory) {
	if f == nil {
		return
	}
	mu.Lock()
	loggerFactory = f
	mu.Unlock()
}
