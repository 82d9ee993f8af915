package spanz

import (
	"strconv"
	"strings"
)

// SamplingState is a tri-state sampling decision.
type SamplingState int8

const (
	// SampleUnset defers the decision to a later gate, usually a Sampler.
	SampleUnset SamplingState = iota
	// SampleDeny records nothing for this trace.
	SampleDeny
	// SampleAccept records and reports this trace.
	SampleAccept
)

// SamplingFlags carries the sampling decision of a context, or of an
// extraction that yielded no identity.
type SamplingFlags struct {
	state SamplingState
	debug bool
}

// Pre-built flag values covering every reachable combination.
var (
	FlagsEmpty      = SamplingFlags{}
	FlagsSampled    = SamplingFlags{state: SampleAccept}
	FlagsNotSampled = SamplingFlags{state: SampleDeny}
	FlagsDebug      = SamplingFlags{state: SampleAccept, debug: true}
)

// Sampled returns the tri-state decision. Debug forces SampleAccept.
func (f SamplingFlags) Sampled() SamplingState {
	if f.debug {
		return SampleAccept
	}
	return f.state
}

// Debug reports whether this trace overrides all samplers.
func (f SamplingFlags) Debug() bool { return f.debug }

// TraceContext is the immutable identity and state of one span.
//
// Two contexts are equal when their trace id, span id, and shared flag are
// equal. Extension data never participates in equality. Instances are
// shared freely across goroutines; the only mutation after construction is
// decoration at adoption time, which produces a new instance.
type TraceContext struct {
	traceIDHigh  uint64
	traceID      uint64
	parentID     uint64 // zero means no parent
	spanID       uint64 // invariant: nonzero
	localRootID  uint64 // set exactly once, at adoption
	flags        SamplingFlags
	shared       bool
	localRoot    bool
	sampledLocal bool
	extra        []any // append-only, opaque to this package
}

// TraceIDHigh returns the high 64 bits of the trace id, zero unless 128-bit
// ids are in use.
func (c *TraceContext) TraceIDHigh() uint64 { return c.traceIDHigh }

// TraceID returns the low 64 bits of the trace id.
func (c *TraceContext) TraceID() uint64 { return c.traceID }

// ParentID returns the parent span id, or zero when this span is a root.
func (c *TraceContext) ParentID() uint64 { return c.parentID }

// SpanID returns the span id. Never zero.
func (c *TraceContext) SpanID() uint64 { return c.spanID }

// LocalRootID returns the span id of the first span adopted in this process
// for the causal chain this context belongs to. Zero until adoption.
func (c *TraceContext) LocalRootID() uint64 { return c.localRootID }

// IsLocalRoot reports whether this context anchors its local causal chain.
func (c *TraceContext) IsLocalRoot() bool { return c.localRoot }

// Sampled returns the frozen sampling decision.
func (c *TraceContext) Sampled() SamplingState { return c.flags.Sampled() }

// Debug reports whether this trace bypasses samplers.
func (c *TraceContext) Debug() bool { return c.flags.Debug() }

// Shared reports whether this span id is reused from a peer across a
// network hop. Only a join can set this.
func (c *TraceContext) Shared() bool { return c.shared }

// SampledLocal reports whether this span is recorded in-process even though
// the trace is not sampled for remote reporting.
func (c *TraceContext) SampledLocal() bool { return c.sampledLocal }

// Flags returns the sampling flags of this context.
func (c *TraceContext) Flags() SamplingFlags { return c.flags }

// Extra returns the propagation extension data attached at decoration.
// Callers must not modify the returned slice.
func (c *TraceContext) Extra() []any { return c.extra }

// FindExtra returns the first extension value for which match returns true,
// or nil.
func (c *TraceContext) FindExtra(match func(any) bool) any {
	for _, e := range c.extra {
		if match(e) {
			return e
		}
	}
	return nil
}

// Equal reports identity equality: trace id, span id, and shared flag.
func (c *TraceContext) Equal(o *TraceContext) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.key() == o.key()
}

// String renders "traceid/spanid" for logs.
func (c *TraceContext) String() string {
	return c.TraceIDString() + "/" + formatID(c.spanID)
}

// TraceIDString returns the trace id as 16 or 32 lowercase hex characters.
func (c *TraceContext) TraceIDString() string {
	if c.traceIDHigh != 0 {
		return formatID(c.traceIDHigh) + formatID(c.traceID)
	}
	return formatID(c.traceID)
}

// SpanIDString returns the span id as 16 lowercase hex characters.
func (c *TraceContext) SpanIDString() string { return formatID(c.spanID) }

// contextKey is the value identity of a context, used as the pending table
// key and for equality.
type contextKey struct {
	traceIDHigh uint64
	traceID     uint64
	spanID      uint64
	shared      bool
}

func (c *TraceContext) key() contextKey {
	return contextKey{c.traceIDHigh, c.traceID, c.spanID, c.shared}
}

// ToBuilder returns a builder seeded with a copy of this context.
func (c *TraceContext) ToBuilder() *TraceContextBuilder {
	b := &TraceContextBuilder{tc: *c}
	if len(c.extra) > 0 {
		b.tc.extra = append([]any(nil), c.extra...)
	}
	return b
}

// TraceContextBuilder assembles a TraceContext. Zero span or trace ids are
// programmer error and Build panics on them.
type TraceContextBuilder struct {
	tc TraceContext
}

// NewTraceContextBuilder returns an empty builder.
func NewTraceContextBuilder() *TraceContextBuilder {
	return &TraceContextBuilder{}
}

// TraceIDHigh sets the high 64 bits of a 128-bit trace id.
func (b *TraceContextBuilder) TraceIDHigh(v uint64) *TraceContextBuilder {
	b.tc.traceIDHigh = v
	return b
}

// TraceID sets the low 64 bits of the trace id.
func (b *TraceContextBuilder) TraceID(v uint64) *TraceContextBuilder {
	b.tc.traceID = v
	return b
}

// ParentID sets the parent span id; zero clears it.
func (b *TraceContextBuilder) ParentID(v uint64) *TraceContextBuilder {
	b.tc.parentID = v
	return b
}

// SpanID sets the span id.
func (b *TraceContextBuilder) SpanID(v uint64) *TraceContextBuilder {
	b.tc.spanID = v
	return b
}

// Sampled sets a definite sampling decision.
func (b *TraceContextBuilder) Sampled(v bool) *TraceContextBuilder {
	if v {
		b.tc.flags.state = SampleAccept
	} else {
		b.tc.flags.state = SampleDeny
	}
	return b
}

// ClearSampled reverts the decision to unset.
func (b *TraceContextBuilder) ClearSampled() *TraceContextBuilder {
	b.tc.flags.state = SampleUnset
	return b
}

// Debug sets the debug flag, which forces sampling.
func (b *TraceContextBuilder) Debug(v bool) *TraceContextBuilder {
	b.tc.flags.debug = v
	return b
}

// Shared marks the span id as reused from a peer. Legal only on contexts
// obtained by join or extraction.
func (b *TraceContextBuilder) Shared(v bool) *TraceContextBuilder {
	b.tc.shared = v
	return b
}

// SampledLocal marks the span for in-process recording regardless of the
// remote sampling decision.
func (b *TraceContextBuilder) SampledLocal(v bool) *TraceContextBuilder {
	b.tc.sampledLocal = v
	return b
}

// AddExtra appends one opaque extension value.
func (b *TraceContextBuilder) AddExtra(e any) *TraceContextBuilder {
	b.tc.extra = append(b.tc.extra, e)
	return b
}

// Build returns the immutable context. Panics if the trace id or span id is
// zero, as those violate the identity invariant.
func (b *TraceContextBuilder) Build() *TraceContext {
	if b.tc.traceID == 0 {
		panic("spanz: traceID == 0")
	}
	if b.tc.spanID == 0 {
		panic("spanz: spanID == 0")
	}
	tc := b.tc
	return &tc
}

func formatID(v uint64) string {
	s := strconv.FormatUint(v, 16)
	if len(s) < 16 {
		s = strings.Repeat("0", 16-len(s)) + s
	}
	return s
}

// parseID parses a 1..16 character lowercase or uppercase hex id. Zero and
// malformed input both report failure.
func parseID(s string) (uint64, bool) {
	if len(s) == 0 || len(s) > 16 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// parseTraceID parses a 16 or 32 character hex trace id into its halves.
// A 32 character id with an all-zero low half is malformed.
func parseTraceID(s string) (high, low uint64, ok bool) {
	switch {
	case len(s) == 32:
		h, err := strconv.ParseUint(s[:16], 16, 64)
		if err != nil {
			return 0, 0, false
		}
		l, ok := parseID(s[16:])
		if !ok {
			return 0, 0, false
		}
		return h, l, true
	case len(s) > 0 && len(s) <= 16:
		l, ok := parseID(s)
		if !ok {
			return 0, 0, false
		}
		return 0, l, true
	default:
		return 0, 0, false
	}
}
