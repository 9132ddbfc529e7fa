package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SystemLog represents a structured system log entry as it is indexed
type SystemLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Logger    string         `json:"logger,omitempty"`
	Caller    string         `json:"caller,omitempty"`
	Gateway   string         `json:"gateway,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LogContext holds contextual information for logging
type LogContext struct {
	Gateway       string
	RequestID     string
	TransactionID string
	Fields        map[string]any
}

// Zap returns the context as zap fields
func (c LogContext) Zap() []zap.Field {
	fields := make([]zap.Field, 0, len(c.Fields)+3)
	if c.Gateway != "" {
		fields = append(fields, zap.String("gateway", c.Gateway))
	}
	if c.RequestID != "" {
		fields = append(fields, zap.String("request_id", c.RequestID))
	}
	if c.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", c.TransactionID))
	}
	for k, v := range c.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

// With returns logger annotated with ctx
func With(logger *zap.Logger, ctx LogContext) *zap.Logger {
	return logger.With(ctx.Zap()...)
}

// SystemIndexer stores system logs, e.g. in OpenSearch
type SystemIndexer interface {
	LogSystemEvent(ctx context.Context, log any) error
}

// indexCore tees entries at or above its level into a SystemIndexer
type indexCore struct {
	zapcore.LevelEnabler
	indexer SystemIndexer
	fields  []zapcore.Field
	timeout time.Duration
}

// NewIndexCore returns a core that indexes every entry at or above level.
// Indexing runs in the background and its failures are dropped.
func NewIndexCore(indexer SystemIndexer, level zapcore.Level) zapcore.Core {
	return &indexCore{LevelEnabler: level, indexer: indexer, timeout: 5 * time.Second}
}

func (c *indexCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *indexCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *indexCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	doc := c.systemLog(entry, fields)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		_ = c.indexer.LogSystemEvent(ctx, doc)
	}()
	return nil
}

func (c *indexCore) systemLog(entry zapcore.Entry, fields []zapcore.Field) SystemLog {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	doc := SystemLog{
		Timestamp: entry.Time.UTC(),
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Logger:    entry.LoggerName,
		Fields:    enc.Fields,
	}
	if entry.Caller.Defined {
		doc.Caller = entry.Caller.TrimmedPath()
	}
	doc.Gateway = take(enc.Fields, "gateway")
	doc.RequestID = take(enc.Fields, "request_id")
	doc.Error = take(enc.Fields, "error")
	if len(doc.Fields) == 0 {
		doc.Fields = nil
	}
	return doc
}

func (c *indexCore) Sync() error { return nil }

func take(fields map[string]any, key string) string {
	v, ok := fields[key].(string)
	if ok {
		delete(fields, key)
	}
	return v
}
