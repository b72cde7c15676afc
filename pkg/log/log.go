package log

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// log is the implementation of Logger
type log struct {
	*zap.SugaredLogger
}

// Logger is the structured logger used by protocol parties and the CLI.
type Logger interface {
	Info(keyvals ...interface{})
	Debug(keyvals ...interface{})
	Warn(keyvals ...interface{})
	Error(keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Debugw(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	With(args ...interface{}) Logger
	Named(s string) Logger
	Sync() error
}

func (l *log) With(args ...interface{}) Logger {
	return &log{l.SugaredLogger.With(args...)}
}

func (l *log) Named(s string) Logger {
	return &log{l.SugaredLogger.Named(s)}
}

const (
	DebugLevel = int(zapcore.DebugLevel)
	InfoLevel  = int(zapcore.InfoLevel)
	WarnLevel  = int(zapcore.WarnLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
)

// DefaultLevel is the level used by DefaultLogger.
// It is raised to DebugLevel when PSI_LOG_LEVEL=debug is set before the first call.
var DefaultLevel = InfoLevel

var (
	defaultLogger Logger
	defaultOnce   sync.Once
)

// DefaultLogger returns a process wide JSON logger writing to stderr.
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		level := DefaultLevel
		if l, err := ParseLevel(os.Getenv("PSI_LOG_LEVEL")); err == nil && os.Getenv("PSI_LOG_LEVEL") != "" {
			level = l
		}
		defaultLogger = New(os.Stderr, level, true)
	})
	return defaultLogger
}

// New returns a logger that prints statements at the given level.
// A nil output writes to stderr.
func New(output zapcore.WriteSyncer, level int, isJSON bool) Logger {
	if output == nil {
		output = os.Stderr
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	if isJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	core := zapcore.NewCore(encoder, output, zapcore.Level(level))
	return &log{zap.New(core, zap.WithCaller(true)).Sugar()}
}

// Nop returns a logger discarding everything.
func Nop() Logger {
	return &log{zap.NewNop().Sugar()}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a level.
func ParseLevel(s string) (int, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}
