package spanz

import (
	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
)

// SpanHandler observes spans between sampling and reporting. Handlers are
// registered as an ordered list at tracer construction and consumed by
// exporters, metrics, and tests.
//
// Begin runs in registration order when a span starts recording; parent is
// the tracked parent context or nil. End runs in reverse registration
// order when the span is finished, flushed, or orphaned. Returning false
// from either stops propagation to the handlers after it in that
// direction; on End this discards the span for the rest of the chain.
//
// A panicking handler never aborts the chain or crashes the caller: the
// panic is logged and only that handler's effect is lost.
type SpanHandler interface {
	Begin(tc *TraceContext, span *MutableSpan, parent *TraceContext) bool
	End(tc *TraceContext, span *MutableSpan, cause Cause) bool
}

// handlerChain runs the registered handlers with per-handler panic
// isolation.
type handlerChain struct {
	handlers  []SpanHandler
	logger    zerolog.Logger
	panicHook func(r any)
}

func (h *handlerChain) begin(tc *TraceContext, span *MutableSpan, parent *TraceContext) {
	for _, handler := range h.handlers {
		ok, panicked := h.safeBegin(handler, tc, span, parent)
		if panicked {
			continue
		}
		if !ok {
			return
		}
	}
}

func (h *handlerChain) end(tc *TraceContext, span *MutableSpan, cause Cause) {
	for i := len(h.handlers) - 1; i >= 0; i-- {
		ok, panicked := h.safeEnd(h.handlers[i], tc, span, cause)
		if panicked {
			continue
		}
		if !ok {
			return
		}
	}
}

func (h *handlerChain) safeBegin(handler SpanHandler, tc *TraceContext, span *MutableSpan, parent *TraceContext) (ok, panicked bool) {
	defer h.recoverPanic(tc, "begin", &panicked)
	return handler.Begin(tc, span, parent), false
}

func (h *handlerChain) safeEnd(handler SpanHandler, tc *TraceContext, span *MutableSpan, cause Cause) (ok, panicked bool) {
	defer h.recoverPanic(tc, "end", &panicked)
	return handler.End(tc, span, cause), false
}

func (h *handlerChain) recoverPanic(tc *TraceContext, op string, panicked *bool) {
	if r := recover(); r != nil {
		*panicked = true
		h.logger.Warn().
			Str("context", tc.String()).
			Str("op", op).
			Interface("panic", r).
			Msg("span handler panicked")
		if h.panicHook != nil {
			h.panicHook(r)
		}
	}
}

// OrphanTracker is the terminal handler installed when orphan tracking is
// enabled. When a span arrives through the orphan sweep without ever
// finishing normally, it stamps a diagnostic annotation and logs the leak
// before the rest of the chain sees the span.
type OrphanTracker struct {
	clock  clockz.Clock
	logger zerolog.Logger
}

// NewOrphanTracker returns a tracker annotating orphans with timestamps
// from clock.
func NewOrphanTracker(clock clockz.Clock, logger zerolog.Logger) *OrphanTracker {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &OrphanTracker{clock: clock, logger: logger}
}

// Begin implements SpanHandler.
func (o *OrphanTracker) Begin(*TraceContext, *MutableSpan, *TraceContext) bool { return true }

// End annotates spans that were never finished through the normal path.
func (o *OrphanTracker) End(tc *TraceContext, span *MutableSpan, cause Cause) bool {
	if cause != CauseOrphaned || span.FinishTimestamp() != 0 {
		return true
	}
	span.Annotate(epochMicros(o.clock.Now()), "spanz.orphaned")
	o.logger.Warn().
		Str("context", tc.String()).
		Msg("span was allocated but never finished")
	return true
}
