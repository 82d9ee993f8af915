package spanz

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"
)

// pendingSpan is one live table entry. The adopted context is held weakly
// so user code dropping its references makes the entry orphan-eligible;
// backup is a detached copy used to report the orphan after collection.
type pendingSpan struct {
	span    *MutableSpan
	adopted weak.Pointer[TraceContext]
	backup  *TraceContext
}

// pendingSpans tracks every recorded span between begin and finalization.
//
// State machine per context: absent, pending, then exactly one of finished,
// flushed, or orphaned. Atomicity of the map removal is what enforces
// at-most-once finalization: whichever of explicit finish, flush, or the
// orphan sweep removes the entry first wins, and the others observe
// "already removed" and no-op.
type pendingSpans struct {
	mu      sync.Mutex
	entries map[contextKey]*pendingSpan
	chain   *handlerChain

	// expired receives keys whose adopted context was reclaimed, the
	// analog of a reference queue. overflow is set when expired is full
	// and forces a full scan on the next sweep.
	expired  chan contextKey
	overflow atomic.Bool
}

func newPendingSpans(chain *handlerChain) *pendingSpans {
	return &pendingSpans{
		entries: make(map[contextKey]*pendingSpan),
		chain:   chain,
		expired: make(chan contextKey, 128),
	}
}

// getOrCreate returns the tracked span for context, creating it at most
// once per distinct context value. The returned TraceContext is the
// canonical adopted instance: callers racing with equal contexts all
// observe the same one. Begin runs exactly once, on creation.
func (p *pendingSpans) getOrCreate(parent, context *TraceContext, startMicros int64) (*MutableSpan, *TraceContext) {
	p.reportOrphans()

	key := context.key()
	p.mu.Lock()
	if entry, ok := p.entries[key]; ok {
		canonical := entry.adopted.Value()
		if canonical == nil {
			// The prior adopter dropped its references before a sweep
			// noticed. Re-adopt under the caller's instance; the stale
			// expiry notification is ignored because the weak pointer is
			// live again.
			entry.adopted = weak.Make(context)
			runtime.AddCleanup(context, p.expire, key)
			canonical = context
		}
		span := entry.span
		p.mu.Unlock()
		return span, canonical
	}

	backup := *context
	entry := &pendingSpan{
		span:    &MutableSpan{startTimestamp: startMicros, shared: context.Shared()},
		adopted: weak.Make(context),
		backup:  &backup,
	}
	p.entries[key] = entry
	p.mu.Unlock()

	runtime.AddCleanup(context, p.expire, key)
	p.chain.begin(context, entry.span, parent)
	return entry.span, context
}

// remove atomically takes the entry for context, or returns nil if it was
// already finalized. The caller owns invoking End.
func (p *pendingSpans) remove(context *TraceContext) *MutableSpan {
	p.reportOrphans()
	return p.take(context.key())
}

// flush is remove under a different intent: the owner is known to be gone
// and a normal finish is not expected. It shares remove's atomicity so a
// concurrent finish and flush resolve to one winner.
func (p *pendingSpans) flush(context *TraceContext) *MutableSpan {
	p.reportOrphans()
	return p.take(context.key())
}

func (p *pendingSpans) take(key contextKey) *MutableSpan {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[key]
	if !ok {
		return nil
	}
	delete(p.entries, key)
	return entry.span
}

// expire is the runtime cleanup for an adopted context. It must not block:
// on a full queue it flags a full scan instead.
func (p *pendingSpans) expire(key contextKey) {
	select {
	case p.expired <- key:
	default:
		p.overflow.Store(true)
	}
}

// reportOrphans drains collected references and finalizes their entries
// with CauseOrphaned. Invoked opportunistically from table operations, so
// detection latency tracks tracer activity and collector behavior.
func (p *pendingSpans) reportOrphans() {
	for {
		select {
		case key := <-p.expired:
			p.reportOrphan(key)
		default:
			if p.overflow.CompareAndSwap(true, false) {
				p.scanOrphans()
				continue
			}
			return
		}
	}
}

func (p *pendingSpans) reportOrphan(key contextKey) {
	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok || entry.adopted.Value() != nil {
		// Lost the race to an explicit finalization, or the key was
		// re-adopted after this notification was queued.
		p.mu.Unlock()
		return
	}
	delete(p.entries, key)
	p.mu.Unlock()

	p.chain.end(entry.backup, entry.span, CauseOrphaned)
}

// scanOrphans is the slow path used after queue overflow: walk the whole
// table looking for reclaimed contexts.
func (p *pendingSpans) scanOrphans() {
	p.mu.Lock()
	var dead []*pendingSpan
	for key, entry := range p.entries {
		if entry.adopted.Value() == nil {
			delete(p.entries, key)
			dead = append(dead, entry)
		}
	}
	p.mu.Unlock()

	for _, entry := range dead {
		p.chain.end(entry.backup, entry.span, CauseOrphaned)
	}
}

// size reports the number of live entries.
func (p *pendingSpans) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
