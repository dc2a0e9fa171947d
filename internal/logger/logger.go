package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings for file output
const (
	MaxSizeMB  = 100
	MaxBackups = 5
	MaxAgeDays = 30
)

// Logger wraps a sugared zap logger with the Printf-style surface the miner uses
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// New creates a new logger writing to stdout
func New() *Logger {
	return NewWriter(os.Stdout)
}

// NewWriter creates a new logger that writes to the provided writer
func NewWriter(w io.Writer) *Logger {
	return newLogger(zapcore.AddSync(w), zapcore.InfoLevel)
}

// NewFile creates a logger writing to path with size-based rotation
func NewFile(path string) *Logger {
	return newLogger(zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
		Compress:   true,
	}), zapcore.InfoLevel)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

func newLogger(ws zapcore.WriteSyncer, level zapcore.Level) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = ""

	atom := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, atom)
	return &Logger{SugaredLogger: zap.New(core).Sugar(), level: atom}
}

// SetVerbose switches debug output on or off. Child loggers share the level.
func (l *Logger) SetVerbose(verbose bool) {
	if verbose {
		l.level.SetLevel(zapcore.DebugLevel)
		return
	}
	l.level.SetLevel(zapcore.InfoLevel)
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...), level: l.level}
}

// Printf logs at info level
func (l *Logger) Printf(format string, args ...interface{}) {
	l.Infof(format, args...)
}

// Println logs at info level
func (l *Logger) Println(args ...interface{}) {
	l.Info(args...)
}
