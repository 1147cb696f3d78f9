package logging

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

type capturedLine struct {
	level  string
	msg    string
	err    error
	fields watermill.LogFields
}

type recordingAdapter struct {
	lines  []capturedLine
	scoped watermill.LogFields
}

func (r *recordingAdapter) Error(msg string, err error, fields watermill.LogFields) {
	r.lines = append(r.lines, capturedLine{level: "error", msg: msg, err: err, fields: r.merge(fields)})
}

func (r *recordingAdapter) Info(msg string, fields watermill.LogFields) {
	r.lines = append(r.lines, capturedLine{level: "info", msg: msg, fields: r.merge(fields)})
}

func (r *recordingAdapter) Debug(msg string, fields watermill.LogFields) {
	r.lines = append(r.lines, capturedLine{level: "debug", msg: msg, fields: r.merge(fields)})
}

func (r *recordingAdapter) Trace(msg string, fields watermill.LogFields) {
	r.lines = append(r.lines, capturedLine{level: "trace", msg: msg, fields: r.merge(fields)})
}

func (r *recordingAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &recordingAdapter{lines: r.lines[:0:0], scoped: r.merge(fields)}
}

func (r *recordingAdapter) merge(fields watermill.LogFields) watermill.LogFields {
	merged := watermill.LogFields{}
	for k, v := range r.scoped {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

func TestWatermillLoggerDelegates(t *testing.T) {
	recorder := &recordingAdapter{}
	logger := NewWatermillLogger(recorder)

	logger.Info("starting", LogFields{"daemon": "producer-0"})
	boom := errors.New("boom")
	logger.Error("send failed", boom, LogFields{"id": 7})

	if len(recorder.lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(recorder.lines))
	}
	if recorder.lines[0].level != "info" || recorder.lines[0].fields["daemon"] != "producer-0" {
		t.Fatalf("unexpected info line %#v", recorder.lines[0])
	}
	if recorder.lines[1].err != boom {
		t.Fatalf("expected error to pass through, got %v", recorder.lines[1].err)
	}
}

func TestToWatermillUnwrapsWrappedAdapter(t *testing.T) {
	recorder := &recordingAdapter{}
	logger := NewWatermillLogger(recorder)

	if got := ToWatermill(logger); got != watermill.LoggerAdapter(recorder) {
		t.Fatalf("expected the original adapter back, got %T", got)
	}
}

func TestToWatermillAdaptsForeignLogger(t *testing.T) {
	recorder := &recordingAdapter{}
	foreign := &fieldLogger{sink: recorder}

	adapter := ToWatermill(foreign)
	adapter.Debug("fetch", watermill.LogFields{"topic": "load"})

	if len(recorder.lines) != 1 || recorder.lines[0].level != "debug" {
		t.Fatalf("expected one debug line, got %#v", recorder.lines)
	}
}

func TestNewSlogLoggerDoesNotPanic(t *testing.T) {
	logger := NewSlogLogger(slog.Default())
	logger.With(LogFields{"component": "test"}).Debug("noop", nil)
}

// fieldLogger is a Logger implementation that is not the internal watermill
// wrapper, to exercise the adapting path of ToWatermill.
type fieldLogger struct {
	sink   *recordingAdapter
	fields LogFields
}

func (f *fieldLogger) With(fields LogFields) Logger {
	merged := LogFields{}
	for k, v := range f.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &fieldLogger{sink: f.sink, fields: merged}
}

func (f *fieldLogger) Debug(msg string, fields LogFields) {
	f.sink.Debug(msg, watermill.LogFields(fields))
}

func (f *fieldLogger) Info(msg string, fields LogFields) {
	f.sink.Info(msg, watermill.LogFields(fields))
}

func (f *fieldLogger) Error(msg string, err error, fields LogFields) {
	f.sink.Error(msg, err, watermill.LogFields(fields))
}

func (f *fieldLogger) Trace(msg string, fields LogFields) {
	f.sink.Trace(msg, watermill.LogFields(fields))
}
