package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs used by floodline.
type LogFields map[string]any

// Logger is the minimal logging contract required by the harness. It maps
// directly onto Watermill's logging needs so the engines and the transports
// can share a single logger without depending on slog.
type Logger interface {
	With(fields LogFields) Logger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

var logLevelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogLogger wraps a slog.Logger so it satisfies the Logger interface.
func NewSlogLogger(log *slog.Logger) Logger {
	if log == nil {
		panic("floodline: slog logger cannot be nil")
	}
	return NewWatermillLogger(watermill.NewSlogLoggerWithLevelMapping(log, logLevelMapping))
}

// NewWatermillLogger wraps an existing Watermill LoggerAdapter.
func NewWatermillLogger(logger watermill.LoggerAdapter) Logger {
	if logger == nil {
		panic("floodline: watermill logger cannot be nil")
	}
	return &watermillLogger{inner: logger}
}

// Nop returns a logger that discards everything. Used as the default in tests
// and when callers pass no logger.
func Nop() Logger {
	return &watermillLogger{inner: watermill.NopLogger{}}
}

type watermillLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillLogger) With(fields LogFields) Logger {
	return &watermillLogger{inner: w.inner.With(toWatermillFields(fields))}
}

func (w *watermillLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type watermillAdapter struct {
	base Logger
}

// ToWatermill converts a Logger back into a Watermill LoggerAdapter so it can
// be handed to transport builders.
func ToWatermill(log Logger) watermill.LoggerAdapter {
	if log == nil {
		panic("floodline: logger cannot be nil")
	}
	if w, ok := log.(*watermillLogger); ok {
		return w.inner
	}
	return &watermillAdapter{base: log}
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.base.Error(msg, err, fromWatermillFields(fields))
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.base.Info(msg, fromWatermillFields(fields))
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.base.Debug(msg, fromWatermillFields(fields))
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.base.Trace(msg, fromWatermillFields(fields))
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{base: a.base.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}
