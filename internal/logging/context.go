package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldArtifactKey identifies the catalog artifact a line refers to.
	FieldArtifactKey = "artifact_key"
	// FieldMirror is the base URL of the mirror serving a transfer.
	FieldMirror = "mirror"
	// FieldRunID correlates every line emitted by one run.
	FieldRunID = "run_id"
	// FieldUnitID identifies a single work unit attempt.
	FieldUnitID = "unit_id"
	// FieldPass is the 1-based scheduling pass number.
	FieldPass = "pass"
	// FieldOffset is a byte offset inside a destination file.
	FieldOffset = "offset"
	// FieldEventType classifies a line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries faults.Kind for failed operations.
	FieldErrorKind = "error_kind"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey int

const (
	runIDKey contextKey = iota
	artifactKeyKey
	passKey
)

// WithRunID stores the run identifier on ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, runID)
}

// WithArtifactKey stores the artifact key on ctx.
func WithArtifactKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, artifactKeyKey, key)
}

// WithPass stores the pass number on ctx.
func WithPass(ctx context.Context, pass int) context.Context {
	if pass <= 0 {
		return ctx
	}
	return context.WithValue(ctx, passKey, pass)
}

// RunIDFromContext returns the run identifier stored by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(runIDKey).(string)
	return v, ok
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if key, ok := ctx.Value(artifactKeyKey).(string); ok {
		fields = append(fields, slog.String(FieldArtifactKey, key))
	}
	if pass, ok := ctx.Value(passKey).(int); ok {
		fields = append(fields, slog.Int(FieldPass, pass))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
