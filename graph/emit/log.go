package emit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogEmitter writes events as structured zap log entries.
//
// Events carrying an "error" meta field are logged at Warn level, everything
// else at the configured level (Info by default).
//
//	emitter := emit.NewLogEmitter(logger)
//	emitter.Emit(emit.Event{ThreadID: "t-1", Step: 2, Node: "draft", Msg: emit.MsgStepCommitted})
//	// {"level":"info","msg":"step_committed","thread_id":"t-1","step":2,"node":"draft"}
type LogEmitter struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLogEmitter creates a LogEmitter. A nil logger discards everything.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger, level: zapcore.InfoLevel}
}

// WithLevel returns a copy logging non-error events at level.
func (l *LogEmitter) WithLevel(level zapcore.Level) *LogEmitter {
	cp := *l
	cp.level = level
	return &cp
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	level := l.level
	if _, ok := event.Err(); ok {
		level = zapcore.WarnLevel
	}
	ce := l.logger.Check(level, event.Msg)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, 3+len(event.Meta))
	fields = append(fields, zap.String("thread_id", event.ThreadID))
	if event.Step > 0 {
		fields = append(fields, zap.Int("step", event.Step))
	}
	if event.Node != "" {
		fields = append(fields, zap.String("node", event.Node))
	}
	for k, v := range event.Meta {
		fields = append(fields, zap.Any(k, v))
	}
	ce.Write(fields...)
}
