package logging

import (
	"context"
	"log/slog"
)

// ComponentKey is the attribute that selects a component's level.
// Library packages tag their loggers with it, e.g.
// logger.With(logging.ComponentKey, "pre").
const ComponentKey = "component"

// filteringHandler drops records below the level the Spec assigns to
// the handler's component.
type filteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

// NewFilteringHandler wraps inner with component-level filtering.
func NewFilteringHandler(inner slog.Handler, spec *Spec) slog.Handler {
	return &filteringHandler{
		inner: inner,
		spec:  spec,
	}
}

func (h *filteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.spec.LevelFor(h.component).ToSlog()
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs picks up the last component attribute, if any.
func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &filteringHandler{
		inner:     h.inner.WithAttrs(attrs),
		spec:      h.spec,
		component: h.component,
	}
	for _, attr := range attrs {
		if attr.Key == ComponentKey {
			next.component = attr.Value.String()
		}
	}
	return next
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{
		inner:     h.inner.WithGroup(name),
		spec:      h.spec,
		component: h.component,
	}
}
