package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/trident-go/trident/artifact"
	"github.com/dshills/trident-go/trident/emit"
)

// newSpanEmitter builds an OTel emitter backed by a tracer provider that
// writes finished spans to <artifacts>/spans.jsonl. The returned done func
// flushes and shuts the provider down.
func newSpanEmitter(projectRoot, artifactDir string) (*emit.OTelEmitter, func(), error) {
	base := artifactDir
	if base == "" {
		base = filepath.Join(projectRoot, artifact.DefaultBaseDirName)
	}
	exporter, err := newFileSpanExporter(filepath.Join(base, "spans.jsonl"))
	if err != nil {
		return nil, nil, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	done := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}
	return emit.NewOTelEmitter(provider.Tracer("trident")), done, nil
}

// fileSpanExporter appends spans as JSON lines. It exists so span export
// needs no collector; the file is greppable alongside the run artifacts.
type fileSpanExporter struct {
	mu   sync.Mutex
	file *os.File
}

func newFileSpanExporter(path string) (*fileSpanExporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("span export: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("span export: %w", err)
	}
	return &fileSpanExporter{file: file}, nil
}

type spanRecord struct {
	Name       string         `json:"name"`
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Status     string         `json:"status,omitempty"`
}

func (e *fileSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	enc := json.NewEncoder(e.file)
	for _, span := range spans {
		rec := spanRecord{
			Name:      span.Name(),
			TraceID:   span.SpanContext().TraceID().String(),
			SpanID:    span.SpanContext().SpanID().String(),
			StartTime: span.StartTime(),
			EndTime:   span.EndTime(),
			Status:    span.Status().Description,
		}
		if attrs := span.Attributes(); len(attrs) > 0 {
			rec.Attributes = make(map[string]any, len(attrs))
			for _, kv := range attrs {
				rec.Attributes[string(kv.Key)] = kv.Value.AsInterface()
			}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("span export: %w", err)
		}
	}
	return nil
}

func (e *fileSpanExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}
