package spanz

import "math"

// Sampler decides once, at trace creation, whether a new trace is recorded.
// The input is the low 64 bits of the trace id, so equal ids sample the
// same way on every host. Policy implementations beyond the trivial ones
// here live outside this package.
type Sampler interface {
	IsSampled(traceID uint64) bool
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(traceID uint64) bool

// IsSampled implements Sampler.
func (f SamplerFunc) IsSampled(traceID uint64) bool { return f(traceID) }

// AlwaysSample records every trace.
var AlwaysSample Sampler = SamplerFunc(func(uint64) bool { return true })

// NeverSample records no traces.
var NeverSample Sampler = SamplerFunc(func(uint64) bool { return false })

// NewRateSampler returns a deterministic sampler retaining approximately
// rate of traces, rate in [0, 1].
func NewRateSampler(rate float64) Sampler {
	switch {
	case rate <= 0:
		return NeverSample
	case rate >= 1:
		return AlwaysSample
	}
	threshold := uint64(rate * float64(math.MaxUint64))
	return SamplerFunc(func(traceID uint64) bool { return traceID <= threshold })
}

// SamplerFunction decides sampling from a typed request before a trace id
// exists, for example an HTTP route sampler. A nil result defers the
// decision to the next gate, ultimately the tracer's Sampler.
type SamplerFunction[T any] func(input T) *bool

// DeferDecision defers to the next gate for every input.
func DeferDecision[T any]() SamplerFunction[T] {
	return func(T) *bool { return nil }
}

// NeverSampleFunction denies every input.
func NeverSampleFunction[T any]() SamplerFunction[T] {
	no := false
	return func(T) *bool { return &no }
}

// FirstMatch chains sampler functions, returning the first non-nil
// decision.
func FirstMatch[T any](fns ...SamplerFunction[T]) SamplerFunction[T] {
	return func(input T) *bool {
		for _, fn := range fns {
			if d := fn(input); d != nil {
				return d
			}
		}
		return nil
	}
}
