package services

import "context"

type contextKey string

const (
	tickIDKey  contextKey = "tick_id"
	stageKey   contextKey = "stage"
	itemKeyKey contextKey = "item_key"
)

// WithTickID annotates context with the controller tick identifier.
func WithTickID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, tickIDKey, id)
}

// TickIDFromContext extracts the tick identifier if present.
func TickIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(tickIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithItemKey annotates context with the character/item key of the work item.
func WithItemKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, itemKeyKey, key)
}

// ItemKeyFromContext returns the work item key if present.
func ItemKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(itemKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
