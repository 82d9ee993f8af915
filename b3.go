package spanz

// B3 multi-header field names, as read and written by Zipkin ecosystems.
const (
	b3TraceIDKey  = "X-B3-TraceId"
	b3SpanIDKey   = "X-B3-SpanId"
	b3ParentIDKey = "X-B3-ParentSpanId"
	b3SampledKey  = "X-B3-Sampled"
	b3FlagsKey    = "X-B3-Flags"
)

// B3Factory supplies the reference B3 multi-header propagation. B3 can
// represent shared span ids, so it reports join support.
type B3Factory struct {
	FactoryDefaults
}

// Get implements PropagationFactory.
func (B3Factory) Get() Propagation { return B3Propagation{} }

// SupportsJoin reports true: B3 carries the same span id on both sides of
// an RPC.
func (B3Factory) SupportsJoin() bool { return true }

// B3Propagation reads and writes the X-B3-* header family.
type B3Propagation struct{}

// Keys implements Propagation.
func (B3Propagation) Keys() []string {
	return []string{b3TraceIDKey, b3SpanIDKey, b3ParentIDKey, b3SampledKey, b3FlagsKey}
}

// Inject writes the identity and sampling fields of tc onto the carrier.
func (B3Propagation) Inject(tc *TraceContext, carrier Carrier) {
	if tc == nil {
		panic("spanz: inject called with nil context")
	}
	carrier.Set(b3TraceIDKey, tc.TraceIDString())
	carrier.Set(b3SpanIDKey, tc.SpanIDString())
	if parentID := tc.ParentID(); parentID != 0 {
		carrier.Set(b3ParentIDKey, formatID(parentID))
	}
	if tc.Debug() {
		// Debug implies sampled, so the sampled field is redundant.
		carrier.Set(b3FlagsKey, "1")
		return
	}
	switch tc.Sampled() {
	case SampleAccept:
		carrier.Set(b3SampledKey, "1")
	case SampleDeny:
		carrier.Set(b3SampledKey, "0")
	case SampleUnset:
		// Leave the decision to the next hop.
	}
}

// Extract reads whatever valid B3 state the carrier holds. Malformed ids
// degrade to a flags-only or empty result; this never fails.
func (B3Propagation) Extract(carrier Carrier) Extracted {
	var extracted Extracted

	switch carrier.Get(b3SampledKey) {
	case "1", "true":
		extracted.Flags = FlagsSampled
	case "0", "false":
		extracted.Flags = FlagsNotSampled
	}
	if carrier.Get(b3FlagsKey) == "1" {
		extracted.Flags = FlagsDebug
	}

	traceIDHigh, traceID, ok := parseTraceID(carrier.Get(b3TraceIDKey))
	if !ok {
		return extracted
	}
	spanID, ok := parseID(carrier.Get(b3SpanIDKey))
	if !ok {
		// A trace id without a span id still tells the next span which
		// trace to continue.
		extracted.TraceIDHigh = traceIDHigh
		extracted.TraceID = traceID
		return extracted
	}

	builder := NewTraceContextBuilder().
		TraceIDHigh(traceIDHigh).
		TraceID(traceID).
		SpanID(spanID)
	if parentID, ok := parseID(carrier.Get(b3ParentIDKey)); ok {
		builder.ParentID(parentID)
	}
	switch extracted.Flags.Sampled() {
	case SampleAccept:
		builder.Sampled(true).Debug(extracted.Flags.Debug())
	case SampleDeny:
		builder.Sampled(false)
	case SampleUnset:
	}
	extracted.Context = builder.Build()
	return extracted
}
