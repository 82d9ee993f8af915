package spanz

// Carrier reads and writes propagation fields on one transport message,
// typically HTTP headers or message metadata.
type Carrier interface {
	// Get returns the value of a field, or "" when absent.
	Get(key string) string
	// Set writes a field, replacing any previous value.
	Set(key, value string)
}

// MapCarrier is an in-memory Carrier backed by a plain map.
type MapCarrier map[string]string

// Get implements Carrier.
func (m MapCarrier) Get(key string) string { return m[key] }

// Set implements Carrier.
func (m MapCarrier) Set(key, value string) { m[key] = value }

// Injector writes span identity and extension fields onto an outbound
// carrier. Partial writes on failure paths are acceptable but must not
// corrupt fields already written.
type Injector interface {
	Inject(tc *TraceContext, carrier Carrier)
}

// Extractor reads identity or sampling state from an inbound carrier.
// Extraction never fails: malformed input degrades to an empty Extracted
// and the tracer falls back to a fresh trace.
type Extractor interface {
	Extract(carrier Carrier) Extracted
}

// Extracted is the result of extraction, one of three shapes: a full
// context, a trace id without a span id, or bare sampling flags.
type Extracted struct {
	// Context holds the full identity when the carrier carried both ids.
	Context *TraceContext

	// TraceIDHigh and TraceID hold a trace id that arrived without a span
	// id. Meaningful only when Context is nil and TraceID is nonzero.
	TraceIDHigh uint64
	TraceID     uint64

	// Flags holds whatever sampling state arrived, possibly unset.
	Flags SamplingFlags

	// Extra holds extension data attached by the extracting codec.
	Extra []any
}

// HasContext reports whether a full identity was extracted.
func (e Extracted) HasContext() bool { return e.Context != nil }

// HasTraceID reports whether a trace id arrived without a span id.
func (e Extracted) HasTraceID() bool { return e.Context == nil && e.TraceID != 0 }

// Propagation is one wire format: its field names plus codecs.
type Propagation interface {
	// Keys lists the field names this format reads and writes, useful for
	// carriers that must pre-declare fields.
	Keys() []string
	Injector
	Extractor
}

// PropagationFactory creates a Propagation and declares its capabilities.
// Embed FactoryDefaults to pick up the default answers.
type PropagationFactory interface {
	Get() Propagation

	// SupportsJoin reports whether this format can represent a server span
	// reusing its client's span id. This is one of two independent join
	// gates; the tracer configuration is the other.
	SupportsJoin() bool

	// Requires128BitTraceID reports whether this format only accepts
	// 128-bit trace ids.
	Requires128BitTraceID() bool

	// Decorate attaches extension data to a context being adopted by the
	// tracer. Implementations may return the input unchanged. They need
	// not cache: the tracer guarantees each externally-supplied context is
	// decorated at most once per adoption.
	Decorate(tc *TraceContext) *TraceContext
}

// FactoryDefaults supplies the default capability answers for embedding in
// PropagationFactory implementations.
type FactoryDefaults struct{}

// SupportsJoin defaults to false.
func (FactoryDefaults) SupportsJoin() bool { return false }

// Requires128BitTraceID defaults to false.
func (FactoryDefaults) Requires128BitTraceID() bool { return false }

// Decorate defaults to identity.
func (FactoryDefaults) Decorate(tc *TraceContext) *TraceContext { return tc }
