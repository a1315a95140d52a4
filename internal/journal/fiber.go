package journal

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracer names the OpenTelemetry tracer used for fiber spans; one span
// per woven section, matching SPEC_FULL §5.4's fiber-tracing supplement.
var tracer = otel.Tracer("github.com/corvid-systems/agency/internal/journal")

// Descriptor identifies a fiber's position in its causal chain: a
// fiber_id shared by every section in one chain, and a fiber_depth that
// increases with nesting (spec §3 invariants).
type Descriptor struct {
	FiberID string
	Depth   int
}

// WovenSection opens a fiber descriptor around a recorded call. Entering
// a section nested inside another keeps the same fiber_id and increments
// depth; entering a fresh section mints a new fiber_id. Sections on the
// same fiber close in LIFO nesting order, giving the total per-fiber
// ordering spec §5 requires.
type WovenSection struct {
	Descriptor Descriptor
	span       trace.Span
	ctx        context.Context
}

type fiberKey struct{}

// Enter opens a new woven section. If ctx already carries a Descriptor
// (i.e. this call is nested inside another woven section), the new
// section inherits its fiber_id and increments depth; otherwise it mints
// a fresh fiber_id at depth 0.
func Enter(ctx context.Context, name string) (context.Context, *WovenSection) {
	var desc Descriptor
	if parent, ok := ctx.Value(fiberKey{}).(Descriptor); ok {
		desc = Descriptor{FiberID: parent.FiberID, Depth: parent.Depth + 1}
	} else {
		desc = Descriptor{FiberID: uuid.NewString(), Depth: 0}
	}

	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("fiber_id", desc.FiberID),
		attribute.Int("fiber_depth", desc.Depth),
	))
	spanCtx = context.WithValue(spanCtx, fiberKey{}, desc)

	return spanCtx, &WovenSection{Descriptor: desc, span: span, ctx: spanCtx}
}

// Close ends the section's span.
func (s *WovenSection) Close() {
	s.span.End()
}

// Abort ends the section without it ever producing a journal entry
// (used for the synthetic sections wrapping agency-level entries, which
// the Python original calls `section.abort()`).
func (s *WovenSection) Abort() {
	s.span.End()
}

// Context exposes the section's context for callers that need to pass
// it onward (e.g. into Enter for a nested call).
func (s *WovenSection) Context() context.Context { return s.ctx }
