package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()

	// Parse log level
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// WithBatch returns a logger annotated with the batch id for one run.
func (l *Logger) WithBatch(batchID string) *zap.Logger {
	return l.With(zap.String("batch_id", batchID))
}

// Nop returns a logger that discards everything. Used by tests and as
// the default when no logger is injected.
func Nop() *Logger {
	return &Logger{zap.NewNop()}
}
