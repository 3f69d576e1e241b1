package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// Init installs a production zap logger at level as the global logger. An
// empty level means debug.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		cfg.Level = lvl
	}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	zap.ReplaceGlobals(l)
	return nil
}
