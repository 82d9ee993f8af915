// Package spanz provides the lifecycle core of a distributed tracing library.
//
// spanz focuses on creating, propagating, and finalizing trace spans without
// the complexity of a full OpenTelemetry stack. It's designed for systems
// that need B3-compatible tracing with predictable performance and strict
// lifecycle guarantees.
//
// Core Components:.
//   - TraceContext: Immutable identity record for one span.
//   - Tracer: Creates root, child, joined, and extracted spans.
//   - Span: Mutation surface for one unit of work.
//   - SpanHandler: Observer chain invoked at span begin and end.
//   - CurrentTraceContext: Scope manager for the logically current context.
//   - Collector: Buffers finished spans for export.
//
// Basic Usage:.
//
//	tracer := spanz.NewTracer(nil)
//
//	// Start a new trace.
//	span := tracer.NewTrace()
//	defer span.Finish()
//
//	// Add metadata.
//	span.SetTag("user.id", "123")
//
//	// Create a child of an existing span.
//	child := tracer.NewChild(span.Context())
//	defer child.Finish()
//
// Lifecycle Guarantees:.
//
// Each span is finalized at most once, whether by Finish, Flush, or the
// orphan sweep. Unsampled contexts produce no-op spans that are never
// tracked and never reach handlers.
//
// Thread Safety:.
//
// Tracer is safe for concurrent use by multiple goroutines. Distinct spans
// may be created, mutated, and finished concurrently. A single MutableSpan
// has one logical owner at a time - external synchronization is required to
// mutate the same span from multiple goroutines.
//
// Resource Cleanup:.
//
// Spans abandoned without Finish are detected best-effort once their
// context becomes unreachable, and are delivered to handlers with
// CauseOrphaned. Latency is bounded only by garbage collector behavior.
package spanz

// Kind classifies the role a span plays in an RPC or messaging exchange.
type Kind int8

const (
	KindUnset Kind = iota
	KindClient
	KindServer
	KindProducer
	KindConsumer
)

// String returns the Zipkin-compatible name of the kind.
func (k Kind) String() string {
	switch k {
	case KindClient:
		return "CLIENT"
	case KindServer:
		return "SERVER"
	case KindProducer:
		return "PRODUCER"
	case KindConsumer:
		return "CONSUMER"
	default:
		return "UNSET"
	}
}

// Cause tells a SpanHandler why a span reached the end of its lifecycle.
type Cause int8

const (
	// CauseFinished is the normal path: the caller invoked Finish.
	CauseFinished Cause = iota
	// CauseFlushed means the span was force-reported before completion.
	CauseFlushed
	// CauseOrphaned means the span's context became unreachable without an
	// explicit finish.
	CauseOrphaned
)

// String returns the name of the cause.
func (c Cause) String() string {
	switch c {
	case CauseFinished:
		return "FINISHED"
	case CauseFlushed:
		return "FLUSHED"
	default:
		return "ORPHANED"
	}
}
