// Package log carries a logrus entry on the context so ledger operations log
// with the fields (caller, batch, operation) of the request that caused them.
package log

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	rootLogger = logrus.NewEntry(logrus.StandardLogger())

	// L accesses the current logger from the context
	L = loggerFromContext

	initAtLeastOnce atomic.Bool
)

type ctxLogKey struct{}

// Config selects the level and output format of the root logger.
type Config struct {
	Level  string
	Format string // json | text
	UTC    bool
	Output io.Writer
}

// InitConfig applies conf to the logrus standard logger.
func InitConfig(conf Config) {
	initAtLeastOnce.Store(true)
	SetLevel(conf.Level)
	if conf.Output != nil {
		logrus.SetOutput(conf.Output)
	}
	var formatter logrus.Formatter
	switch strings.ToLower(conf.Format) {
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	default:
		formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	if conf.UTC {
		formatter = &utcFormat{f: formatter}
	}
	logrus.SetFormatter(formatter)
}

func ensureInit() {
	if !initAtLeastOnce.Load() {
		InitConfig(Config{})
	}
}

// WithLogger adds the specified logger to the context
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	ensureInit()
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField adds the specified field to the logger in the context
func WithLogField(ctx context.Context, key, value string) context.Context {
	ensureInit()
	if len(value) > 61 {
		value = value[0:61] + "..."
	}
	return WithLogger(ctx, loggerFromContext(ctx).WithField(key, value))
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return rootLogger
	}
	logger, ok := ctx.Value(ctxLogKey{}).(*logrus.Entry)
	if !ok || logger == nil {
		return rootLogger
	}
	return logger
}

// SetLevel sets the level of the standard logger; unknown values mean info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

type utcFormat struct {
	f logrus.Formatter
}

func (utc *utcFormat) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return utc.f.Format(e)
}

// Structured adapts a logrus entry to the Debug/Info/Warn/Error(msg, kv...)
// shape used by the ledger. Odd trailing values are logged under "extra".
type Structured struct {
	Entry *logrus.Entry
}

// NewStructured wraps entry; nil uses the root logger.
func NewStructured(entry *logrus.Entry) Structured {
	if entry == nil {
		ensureInit()
		entry = rootLogger
	}
	return Structured{Entry: entry}
}

func (s Structured) with(args []any) *logrus.Entry {
	if len(args) == 0 {
		return s.Entry
	}
	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["extra"] = args[i]
			break
		}
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	return s.Entry.WithFields(fields)
}

// Debug logs at debug level.
func (s Structured) Debug(msg string, args ...any) { s.with(args).Debug(msg) }

// Info logs at info level.
func (s Structured) Info(msg string, args ...any) { s.with(args).Info(msg) }

// Warn logs at warn level.
func (s Structured) Warn(msg string, args ...any) { s.with(args).Warn(msg) }

// Error logs at error level.
func (s Structured) Error(msg string, args ...any) { s.with(args).Error(msg) }
