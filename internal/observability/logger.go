package observability

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger: тонкая обёртка над zerolog с kv-парами: logger.Info("msg", "key", value, ...)
type Logger struct {
	z zerolog.Logger
}

// NewLogger пишет JSON в ротируемый файл и, при console=true, читаемый вывод в stderr
func NewLogger(logPath, logLevel string, console bool) (*Logger, error) {
	var writers []io.Writer

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	if console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}

	z := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(logLevel)).
		With().
		Timestamp().
		Logger()

	return &Logger{z: z}, nil
}

// NewWriterLogger: логгер поверх произвольного writer (удобно в тестах)
func NewWriterLogger(w io.Writer, logLevel string) *Logger {
	return &Logger{z: zerolog.New(w).Level(ParseLevel(logLevel)).With().Timestamp().Logger()}
}

func NewNopLogger() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// ParseLevel: debug|info|warn|error, всё остальное: info
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With возвращает дочерний логгер с постоянными полями
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{z: l.z.With().Fields(fields).Logger()}
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.z.Debug().Fields(fields).Msg(msg)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.z.Info().Fields(fields).Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.z.Warn().Fields(fields).Msg(msg)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.z.Error().Fields(fields).Msg(msg)
}
