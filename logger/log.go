// Package logger is the process-wide zap logger used by the server, the clients and the
// command line tools.
package logger

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	current      atomic.Pointer[zap.SugaredLogger]
	debugEnabled atomic.Bool
)

func init() {
	Initialise(zapcore.InfoLevel, "console")
}

type Config struct {
	Format string `help:"Format to write log lines in" enum:"console,json" default:"console"`
	Level  string `help:"Lowest log level that will be emitted" enum:"debug,info,warn,error" default:"info"`
}

func (cfg *Config) Configure() error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil {
		return errors.WithStack(err)
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format != "console" && format != "json" {
		return errors.New("log-format must be one of 'console' or 'json'")
	}
	Initialise(level, format)
	return nil
}

// Initialise replaces the global logger. Loggers handed out by Named before the call keep
// their old level.
func Initialise(level zapcore.Level, encoding string) {
	l := build(level, encoding)
	current.Store(l.Sugar())
	debugEnabled.Store(l.Core().Enabled(zap.DebugLevel))
}

// DebugEnabled reports whether debug lines are emitted. Hot paths check it before building
// them.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

func build(level zapcore.Level, encoding string) *zap.Logger {
	conf := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			MessageKey:     "M",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     timeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stdout"},
		DisableCaller:     true,
		DisableStacktrace: true,
	}
	l, err := conf.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.999999"))
}

// Named returns a child of the global logger, for components that want their own name on
// every line.
func Named(name string) *zap.SugaredLogger {
	return current.Load().Named(name)
}

func Debugf(format string, args ...interface{}) {
	if !DebugEnabled() {
		return
	}
	current.Load().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	current.Load().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	current.Load().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	current.Load().Errorf(format, args...)
}
