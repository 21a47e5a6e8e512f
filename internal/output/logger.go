/*
PURPOSE:
  Provides a structured logger for Mimic Runner.
  Wraps zap for consistent key/value output.

REQUIREMENTS:
  User-specified:
  - "Sane" CLI output. Not spammy.

  Implementation-discovered:
  - Per-chunk events are debug level; lifecycle transitions are info.
  - Level must be switchable at runtime from --log-level / config.

ARCHITECTURE INTEGRATION:
  - Used everywhere.

ERROR HANDLING:
  - Unknown level names fall back to info and are reported to the caller.

IMPLEMENTATION RULES:
  - Use go.uber.org/zap, sugared API with key/value pairs (Infow, Warnw...).

USAGE:
  output.Logger.Infow("message", "key", "value")

SELF-HEALING INSTRUCTIONS:
  - If logs disappear, check the atomic level set by SetLevel.

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - JSON encoding for non-interactive use?
*/

package output

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the process-wide logger.
	Logger *zap.SugaredLogger

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	Logger = zap.New(core).Sugar()
}

// SetLogger allows overriding the default logger (e.g. for testing).
func SetLogger(l *zap.SugaredLogger) {
	Logger = l
}

// SetLevel changes the level of the default logger.
func SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		level.SetLevel(zapcore.InfoLevel)
		return fmt.Errorf("unknown log level %q: %w", name, err)
	}
	level.SetLevel(lvl)
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}
