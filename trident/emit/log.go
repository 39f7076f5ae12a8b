package emit

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// LogEmitter writes events through a structured slog logger.
//
// By default it uses a tinted handler for readable terminal output; pass
// jsonMode=true for machine-readable JSON lines (one event per line), which
// suits log shipping.
//
//	emitter := emit.NewLogEmitter(os.Stderr, false, slog.LevelInfo)
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter writing to w at the given level.
func NewLogEmitter(w io.Writer, jsonMode bool, level slog.Level) *LogEmitter {
	if w == nil {
		w = os.Stderr
	}
	var handler slog.Handler
	if jsonMode {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return &LogEmitter{logger: slog.New(handler)}
}

// NewLoggerEmitter wraps an existing slog logger.
func NewLoggerEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event. Failure events log at error level, everything else at
// info.
func (l *LogEmitter) Emit(event Event) {
	attrs := make([]any, 0, 6+2*len(event.Meta))
	attrs = append(attrs, "run_id", event.RunID)
	if event.Workflow != "" {
		attrs = append(attrs, "workflow", event.Workflow)
	}
	if event.NodeID != "" {
		attrs = append(attrs, "node", event.NodeID)
	}
	for k, v := range event.Meta {
		attrs = append(attrs, k, v)
	}

	if _, failed := event.Meta["error"]; failed {
		l.logger.Error(event.Msg, attrs...)
		return
	}
	l.logger.Info(event.Msg, attrs...)
}
