// Package logging builds the slog loggers used across tamperguard. Records
// are encoded by a zap core (JSON or console) and pass through an error
// throttle so a hostile page cannot flood the operator's output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level     string    // debug|info|warn|error
	Format    string    // json|console
	MaxErrors int       // error records per session before output is paused; 0 disables the cap
	Output    io.Writer // defaults to os.Stderr
}

// Level is the runtime-adjustable verbosity of a logger built by New.
type Level struct {
	atomic zap.AtomicLevel
	base   zapcore.Level
}

// SetDebug switches between debug verbosity and the configured level.
func (l *Level) SetDebug(enable bool) {
	if enable {
		l.atomic.SetLevel(zapcore.DebugLevel)
		return
	}
	l.atomic.SetLevel(l.base)
}

// Debug reports whether debug records are currently emitted.
func (l *Level) Debug() bool { return l.atomic.Enabled(zapcore.DebugLevel) }

// New creates a slog.Logger backed by zap.
func New(cfg Config) (*slog.Logger, *Level, error) {
	base := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := base.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, nil, err
		}
	}

	var ecfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if strings.ToLower(cfg.Format) == "console" {
		ecfg = zap.NewDevelopmentEncoderConfig()
		ecfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(ecfg)
	} else {
		ecfg = zap.NewProductionEncoderConfig()
		ecfg.TimeKey = "ts"
		ecfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ecfg)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	lvl := &Level{atomic: zap.NewAtomicLevelAt(base), base: base}
	core := zapcore.NewCore(enc, zapcore.AddSync(out), lvl.atomic)
	var h slog.Handler = zapslog.NewHandler(core, zapslog.WithName("tamperguard"))
	if cfg.MaxErrors > 0 {
		h = NewThrottle(h, cfg.MaxErrors)
	}
	return slog.New(h), lvl, nil
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(zapslog.NewHandler(zapcore.NewNopCore()))
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:     getenv("TAMPERGUARD_LOG_LEVEL", "info"),
		Format:    getenv("TAMPERGUARD_LOG_FORMAT", "json"),
		MaxErrors: 50,
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
