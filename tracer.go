package spanz

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
)

// Span is one timed unit of work. Mutators on an unsampled span are no-ops
// that allocate nothing; mutators on a sampled span write the pending
// record for one logical owner at a time.
type Span interface {
	// IsNoop reports whether this span records nothing.
	IsNoop() bool

	// Context returns the identity of this span.
	Context() *TraceContext

	// Start resets the start timestamp to now.
	Start()
	// StartAt sets the start timestamp in epoch microseconds.
	StartAt(micros int64)

	SetName(name string)
	SetKind(kind Kind)
	SetTag(key, value string)

	// Annotate adds an event at the current time.
	Annotate(value string)
	// AnnotateAt adds an event at an explicit epoch-microsecond time.
	AnnotateAt(micros int64, value string)

	SetRemoteServiceName(name string)
	SetRemoteIPPort(ip string, port int) bool

	// Finish reports the span through the handler chain with
	// CauseFinished. At most one of Finish, Flush, or the orphan sweep
	// takes effect; later calls are no-ops.
	Finish()
	// FinishAt is Finish with an explicit timestamp.
	FinishAt(micros int64)

	// Flush force-reports the span with CauseFlushed, used when the owner
	// is known to be gone.
	Flush()

	// Abandon discards the span without reporting it.
	Abandon()
}

// Tracer is the façade composing contexts, sampling, propagation, scope
// management, the pending table, and the handler chain. Safe for
// concurrent use by multiple goroutines.
type Tracer struct {
	localServiceName  string
	clock             clockz.Clock
	logger            zerolog.Logger
	sampler           Sampler
	factory           PropagationFactory
	propagation       Propagation
	current           CurrentTraceContext
	pending           *pendingSpans
	chain             *handlerChain
	supportsJoin      bool // tracer-level gate; the factory holds its own
	traceID128        bool
	alwaysSampleLocal bool
}

// NewTracer builds a tracer from cfg. A nil cfg uses the defaults.
func NewTracer(cfg *Config) *Tracer {
	c := cfg.sanitized()

	handlers := append([]SpanHandler(nil), c.Handlers...)
	if *c.TrackOrphans {
		handlers = append(handlers, NewOrphanTracker(c.Clock, *c.Logger))
	}
	chain := &handlerChain{
		handlers:  handlers,
		logger:    *c.Logger,
		panicHook: c.PanicHook,
	}

	current := c.Current
	if current == nil {
		current = NewCurrentTraceContext()
	}

	return &Tracer{
		localServiceName:  c.LocalServiceName,
		clock:             c.Clock,
		logger:            *c.Logger,
		sampler:           c.Sampler,
		factory:           c.Propagation,
		propagation:       c.Propagation.Get(),
		current:           current,
		pending:           newPendingSpans(chain),
		chain:             chain,
		supportsJoin:      *c.SupportsJoin,
		traceID128:        c.TraceID128Bit,
		alwaysSampleLocal: c.AlwaysSampleLocal,
	}
}

// LocalServiceName returns the configured name of this process.
func (t *Tracer) LocalServiceName() string { return t.localServiceName }

// Propagation returns the configured wire codec.
func (t *Tracer) Propagation() Propagation { return t.propagation }

// CurrentTraceContext returns the scope manager.
func (t *Tracer) CurrentTraceContext() CurrentTraceContext { return t.current }

// NewTrace starts a trace with a fresh id and no parent. The sampling
// decision is made here and frozen into the context.
func (t *Tracer) NewTrace() Span {
	return t.toSpan(nil, t.newRootContext(FlagsEmpty, nil))
}

// JoinSpan returns a span sharing the same id as context, marking it
// shared, so client and server report one logical RPC. Join requires both
// the tracer and the propagation factory to support it; otherwise this
// transparently falls back to NewChild.
func (t *Tracer) JoinSpan(tc *TraceContext) Span {
	if tc == nil {
		panic("spanz: joinSpan called with nil context")
	}
	if !t.supportsJoin || !t.factory.SupportsJoin() {
		return t.NewChild(tc)
	}

	builder := tc.ToBuilder().Shared(true)
	state := tc.Sampled()
	if state == SampleUnset {
		builder.Sampled(t.sampler.IsSampled(tc.TraceID()))
	}
	joined := builder.SampledLocal(tc.SampledLocal() || t.alwaysSampleLocal).Build()
	return t.toSpan(nil, t.adopt(tc.LocalRootID(), joined))
}

// NewChild starts a span with a new id whose parent is parent. Children
// never inherit the shared flag.
func (t *Tracer) NewChild(parent *TraceContext) Span {
	if parent == nil {
		panic("spanz: newChild called with nil parent")
	}
	return t.toSpan(parent, t.newChildContext(parent, nil))
}

// NextSpan continues the current scope if one exists, else starts a new
// trace.
func (t *Tracer) NextSpan() Span {
	return t.nextSpan(SampleUnset, nil)
}

// NextSpanFrom resolves an extraction result into a span: a full context
// joins (or falls back to a child), a bare trace id continues that trace,
// and flags or nothing continue the current scope or start a new trace. A
// sampling decision is always forced before the span is returned.
func (t *Tracer) NextSpanFrom(extracted Extracted) Span {
	if extracted.Context != nil {
		return t.JoinSpan(extracted.Context)
	}

	if extracted.HasTraceID() {
		spanID := t.randomID()
		builder := NewTraceContextBuilder().
			TraceIDHigh(extracted.TraceIDHigh).
			TraceID(extracted.TraceID).
			SpanID(spanID)
		state := extracted.Flags.Sampled()
		if state == SampleUnset {
			builder.Sampled(t.sampler.IsSampled(extracted.TraceID))
		} else {
			builder.Sampled(state == SampleAccept).Debug(extracted.Flags.Debug())
		}
		builder.SampledLocal(t.alwaysSampleLocal)
		for _, e := range extracted.Extra {
			builder.AddExtra(e)
		}
		return t.toSpan(nil, t.adopt(0, builder.Build()))
	}

	if parent := t.current.Get(); parent != nil {
		return t.toSpan(parent, t.newChildContext(parent, extracted.Extra))
	}
	return t.toSpan(nil, t.newRootContext(extracted.Flags, extracted.Extra))
}

// NextSpanWithSampler applies a request-typed sampler function before the
// tracer's Sampler, for new traces only: an existing parent's decision
// always wins.
func NextSpanWithSampler[T any](t *Tracer, fn SamplerFunction[T], input T) Span {
	state := SampleUnset
	if d := fn(input); d != nil {
		if *d {
			state = SampleAccept
		} else {
			state = SampleDeny
		}
	}
	return t.nextSpan(state, nil)
}

func (t *Tracer) nextSpan(state SamplingState, extra []any) Span {
	if parent := t.current.Get(); parent != nil {
		return t.toSpan(parent, t.newChildContext(parent, extra))
	}
	return t.toSpan(nil, t.newRootContext(SamplingFlags{state: state}, extra))
}

// ToSpan adopts an externally-constructed context as-is, decorating it for
// identity stability but never changing its parent/child relationship.
func (t *Tracer) ToSpan(tc *TraceContext) Span {
	if tc == nil {
		panic("spanz: toSpan called with nil context")
	}
	return t.toSpan(nil, t.adopt(tc.LocalRootID(), tc))
}

// CurrentSpan returns a span over the current scope's context, or nil when
// no scope is active.
func (t *Tracer) CurrentSpan() Span {
	tc := t.current.Get()
	if tc == nil {
		return nil
	}
	return t.ToSpan(tc)
}

// WithSpanInScope makes span current until the returned scope closes.
// Passing nil clears the current scope, preventing inheritance by
// fire-and-forget work.
func (t *Tracer) WithSpanInScope(span Span) Scope {
	if span == nil {
		return t.current.NewScope(nil)
	}
	return t.current.NewScope(span.Context())
}

// newRootContext creates and samples a fresh trace.
func (t *Tracer) newRootContext(flags SamplingFlags, extra []any) *TraceContext {
	traceID := t.randomID()
	var traceIDHigh uint64
	if t.traceID128 {
		traceIDHigh = t.randomID()
	}

	builder := NewTraceContextBuilder().
		TraceIDHigh(traceIDHigh).
		TraceID(traceID).
		SpanID(t.randomID())
	if flags.Debug() {
		builder.Sampled(true).Debug(true)
	} else if state := flags.Sampled(); state != SampleUnset {
		builder.Sampled(state == SampleAccept)
	} else {
		builder.Sampled(t.sampler.IsSampled(traceID))
	}
	builder.SampledLocal(t.alwaysSampleLocal)
	for _, e := range extra {
		builder.AddExtra(e)
	}
	return t.adopt(0, builder.Build())
}

// newChildContext derives a child identity from parent. The child inherits
// the trace id, sampling state, and local root, and is never shared.
func (t *Tracer) newChildContext(parent *TraceContext, extra []any) *TraceContext {
	builder := NewTraceContextBuilder().
		TraceIDHigh(parent.TraceIDHigh()).
		TraceID(parent.TraceID()).
		ParentID(parent.SpanID()).
		SpanID(t.randomID()).
		Shared(false).
		SampledLocal(parent.SampledLocal() || t.alwaysSampleLocal)
	switch parent.Sampled() {
	case SampleAccept:
		builder.Sampled(true).Debug(parent.Debug())
	case SampleDeny:
		builder.Sampled(false)
	case SampleUnset:
	}
	for _, e := range parent.Extra() {
		builder.AddExtra(e)
	}
	for _, e := range extra {
		builder.AddExtra(e)
	}
	return t.adopt(parent.LocalRootID(), builder.Build())
}

// adopt finalizes a context for in-process use: the local root is assigned
// exactly once, then the propagation factory attaches extension data. Each
// context is decorated at most once per adoption; equal contexts that are
// already tracked resolve to their canonical instance in toSpan.
func (t *Tracer) adopt(parentLocalRootID uint64, tc *TraceContext) *TraceContext {
	if tc.localRootID == 0 {
		next := *tc
		if parentLocalRootID != 0 {
			next.localRootID = parentLocalRootID
			next.localRoot = false
		} else {
			next.localRootID = next.spanID
			next.localRoot = true
		}
		tc = &next
	}
	return t.factory.Decorate(tc)
}

// toSpan makes the handoff: sampled-or-locally-sampled contexts are
// tracked and observed by handlers, everything else gets the no-op span,
// the primary cost-avoidance path.
func (t *Tracer) toSpan(parent, tc *TraceContext) Span {
	if tc.Sampled() == SampleAccept || tc.SampledLocal() {
		span, canonical := t.pending.getOrCreate(parent, tc, epochMicros(t.clock.Now()))
		return &realSpan{context: canonical, pending: span, tracer: t}
	}
	return &noopSpan{context: tc}
}

func (t *Tracer) randomID() uint64 {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			// Fall back to the clock if crypto/rand fails, so tracing
			// keeps functioning.
			if v := uint64(t.clock.Now().UnixNano()); v != 0 {
				return v
			}
			continue
		}
		if v := binary.BigEndian.Uint64(b[:]); v != 0 {
			return v
		}
	}
}

func epochMicros(t time.Time) int64 { return t.UnixMicro() }

// realSpan is the recording implementation, holding the canonical context
// and the pending record.
type realSpan struct {
	context *TraceContext
	pending *MutableSpan
	tracer  *Tracer
}

func (s *realSpan) IsNoop() bool { return false }
func (s *realSpan) Context() *TraceContext { return s.context }

func (s *realSpan) Start() { s.pending.SetStartTimestamp(epochMicros(s.tracer.clock.Now())) }
func (s *realSpan) StartAt(micros int64) { s.pending.SetStartTimestamp(micros) }

func (s *realSpan) SetName(name string) { s.pending.SetName(name) }
func (s *realSpan) SetKind(kind Kind) { s.pending.SetKind(kind) }
func (s *realSpan) SetTag(key, value string) { s.pending.SetTag(key, value) }

func (s *realSpan) Annotate(value string) {
	s.pending.Annotate(epochMicros(s.tracer.clock.Now()), value)
}

func (s *realSpan) AnnotateAt(micros int64, value string) {
	s.pending.Annotate(micros, value)
}

func (s *realSpan) SetRemoteServiceName(name string) { s.pending.SetRemoteServiceName(name) }

func (s *realSpan) SetRemoteIPPort(ip string, port int) bool {
	return s.pending.SetRemoteIPPort(ip, port)
}

func (s *realSpan) Finish() { s.FinishAt(epochMicros(s.tracer.clock.Now())) }

func (s *realSpan) FinishAt(micros int64) {
	span := s.tracer.pending.remove(s.context)
	if span == nil {
		// Already finished, flushed, or orphaned.
		return
	}
	if span.FinishTimestamp() == 0 {
		span.SetFinishTimestamp(micros)
	}
	s.tracer.chain.end(s.context, span, CauseFinished)
}

func (s *realSpan) Flush() {
	span := s.tracer.pending.flush(s.context)
	if span == nil {
		return
	}
	s.tracer.chain.end(s.context, span, CauseFlushed)
}

func (s *realSpan) Abandon() {
	s.tracer.pending.remove(s.context)
}

// noopSpan implements Span with no effects. It is the only allocation on
// the unsampled path.
type noopSpan struct {
	context *TraceContext
}

func (s *noopSpan) IsNoop() bool { return true }
func (s *noopSpan) Context() *TraceContext { return s.context }
func (s *noopSpan) Start() {}
func (s *noopSpan) StartAt(int64) {}
func (s *noopSpan) SetName(string) {}
func (s *noopSpan) SetKind(Kind) {}
func (s *noopSpan) SetTag(string, string) {}
func (s *noopSpan) Annotate(string) {}
func (s *noopSpan) AnnotateAt(int64, string) {}
func (s *noopSpan) SetRemoteServiceName(string) {}
func (s *noopSpan) SetRemoteIPPort(string, int) bool { return false }
func (s *noopSpan) Finish() {}
func (s *noopSpan) FinishAt(int64) {}
func (s *noopSpan) Flush() {}
func (s *noopSpan) Abandon() {}

// contextBundle holds both tracer and span to reduce context allocations.
type contextBundle struct {
	tracer *Tracer
	span   Span
}

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const bundleKey bundleKeyType = "spanz"

// StartSpan creates a span named name as a child of the span in ctx, or
// continues the current scope when ctx carries none. The returned context
// carries the new span for downstream calls.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	var span Span
	if parent := SpanFromContext(ctx); parent != nil {
		span = t.NewChild(parent.Context())
	} else {
		span = t.NextSpan()
	}
	span.SetName(name)

	bundle := &contextBundle{tracer: t, span: span}
	return context.WithValue(ctx, bundleKey, bundle), span
}

// ContextWithSpan returns a context carrying span for StartSpan chaining.
func ContextWithSpan(ctx context.Context, tracer *Tracer, span Span) context.Context {
	bundle := &contextBundle{tracer: tracer, span: span}
	return context.WithValue(ctx, bundleKey, bundle)
}

// SpanFromContext extracts the span from a context, or nil if none is
// present.
func SpanFromContext(ctx context.Context) Span {
	if ctx == nil {
		return nil
	}
	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}
	return nil
}
