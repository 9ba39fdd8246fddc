// Package log provides the process-wide structured logger.
//
// It wraps a zap.SugaredLogger behind package-level functions so that
// call sites stay short (log.Infow, log.Warnf, ...) and the engine can be
// reconfigured once at startup from options.
package log

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the global logger.
type Options struct {
	// Level is the minimum enabled level: debug, info, warn, error.
	Level string `json:"level" mapstructure:"level"`

	// Format is the encoder format: json or console.
	Format string `json:"format" mapstructure:"format"`

	// OutputPaths are the log sinks (default stdout).
	OutputPaths []string `json:"output-paths" mapstructure:"output-paths"`

	// InitialFields are attached to every entry (service name, version).
	InitialFields map[string]any `json:"initial-fields" mapstructure:"initial-fields"`
}

// NewOptions returns Options with production defaults.
func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// AddInitialField attaches a field to every log entry.
func (o *Options) AddInitialField(key string, value any) {
	if o.InitialFields == nil {
		o.InitialFields = make(map[string]any)
	}
	o.InitialFields[key] = value
}

// Validate checks the options.
func (o *Options) Validate() error {
	var lvl zapcore.Level
	if err := lvl.Set(o.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.Level, err)
	}
	if o.Format != "json" && o.Format != "console" {
		return fmt.Errorf("invalid log format %q", o.Format)
	}
	return nil
}

var (
	mu     sync.RWMutex
	global = newDefault()
)

func newDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	l, _ := cfg.Build(zap.AddCallerSkip(1))
	return l.Sugar()
}

// Init builds the global logger from options. It is called once at startup;
// before Init, a production-config default is in place.
func Init(opts *Options) error {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	var lvl zapcore.Level
	_ = lvl.Set(opts.Level)

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		Encoding:          opts.Format,
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       opts.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     opts.InitialFields,
		DisableStacktrace: true,
	}
	if cfg.Encoding == "console" {
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	old := global
	global = l.Sugar()
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// Sync flushes buffered entries. Call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = global.Sync()
}

func logger() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Debug logs at debug level.
func Debug(args ...any) { logger().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { logger().Debugf(format, args...) }

// Debugw logs a message with key-value pairs at debug level.
func Debugw(msg string, keysAndValues ...any) { logger().Debugw(msg, keysAndValues...) }

// Info logs at info level.
func Info(args ...any) { logger().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { logger().Infof(format, args...) }

// Infow logs a message with key-value pairs at info level.
func Infow(msg string, keysAndValues ...any) { logger().Infow(msg, keysAndValues...) }

// Warn logs at warn level.
func Warn(args ...any) { logger().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { logger().Warnf(format, args...) }

// Warnw logs a message with key-value pairs at warn level.
func Warnw(msg string, keysAndValues ...any) { logger().Warnw(msg, keysAndValues...) }

// Error logs at error level.
func Error(args ...any) { logger().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { logger().Errorf(format, args...) }

// Errorw logs a message with key-value pairs at error level.
func Errorw(msg string, keysAndValues ...any) { logger().Errorw(msg, keysAndValues...) }

// Fatalf logs a formatted message and exits.
func Fatalf(format string, args ...any) {
	logger().Fatalf(format, args...)
	os.Exit(1)
}
