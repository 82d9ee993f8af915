package spanz

// Endpoint describes the remote party of an RPC or messaging exchange.
type Endpoint struct {
	ServiceName string
	IP          string
	Port        int
}

func (e Endpoint) isEmpty() bool {
	return e.ServiceName == "" && e.IP == "" && e.Port == 0
}

// MutableSpan is the in-flight record of a span: everything except its
// TraceContext. It is mutable for late adjustments.
//
// While tracked as pending, one logical owner mutates it at a time; the
// table synchronizes creation and removal but not field writes. After
// finalization ownership transfers to the handler chain and no locking is
// needed.
//
// One of these is allocated per in-flight span, so tags and annotations
// collocate in a single pair-indexed list instead of two maps: entries are
// (key string, value string) for tags and (timestamp int64, value string)
// for annotations.
type MutableSpan struct {
	kind            Kind
	shared          bool
	startTimestamp  int64 // epoch microseconds
	finishTimestamp int64
	name            string
	remote          Endpoint
	pairs           []any
}

// Name returns the operation name, possibly empty.
func (s *MutableSpan) Name() string { return s.name }

// SetName sets the operation name.
func (s *MutableSpan) SetName(name string) { s.name = name }

// Kind returns the span kind, KindUnset if none was set.
func (s *MutableSpan) Kind() Kind { return s.kind }

// SetKind classifies the span's role in an exchange.
func (s *MutableSpan) SetKind(kind Kind) { s.kind = kind }

// StartTimestamp returns the start time in epoch microseconds, zero if
// unset.
func (s *MutableSpan) StartTimestamp() int64 { return s.startTimestamp }

// SetStartTimestamp sets the start time in epoch microseconds.
func (s *MutableSpan) SetStartTimestamp(micros int64) { s.startTimestamp = micros }

// FinishTimestamp returns the finish time in epoch microseconds, zero if
// the span never finished through the normal path.
func (s *MutableSpan) FinishTimestamp() int64 { return s.finishTimestamp }

// SetFinishTimestamp sets the finish time in epoch microseconds.
func (s *MutableSpan) SetFinishTimestamp(micros int64) { s.finishTimestamp = micros }

// Shared reports whether this span contributes to an id started by a peer.
func (s *MutableSpan) Shared() bool { return s.shared }

// SetShared marks the span as contributing to a span started elsewhere,
// such as on a different host.
func (s *MutableSpan) SetShared() { s.shared = true }

// RemoteEndpoint returns the remote party, the zero Endpoint if unset.
func (s *MutableSpan) RemoteEndpoint() Endpoint { return s.remote }

// SetRemoteServiceName records the logical name of the remote party.
func (s *MutableSpan) SetRemoteServiceName(name string) {
	if name == "" {
		panic("spanz: remote service name is empty")
	}
	s.remote.ServiceName = name
}

// SetRemoteIPPort records the remote address. Returns false and records
// nothing when ip is empty.
func (s *MutableSpan) SetRemoteIPPort(ip string, port int) bool {
	if ip == "" {
		return false
	}
	s.remote.IP = ip
	s.remote.Port = port
	return true
}

// Annotate adds a timestamped event. A zero timestamp is silently dropped,
// an empty value is programmer error.
func (s *MutableSpan) Annotate(micros int64, value string) {
	if value == "" {
		panic("spanz: annotation value is empty")
	}
	if micros == 0 {
		return
	}
	s.pairs = append(s.pairs, micros, value)
}

// SetTag writes a tag. Writing an existing key replaces its value in
// place, preserving position. An empty key is programmer error.
func (s *MutableSpan) SetTag(key, value string) {
	if key == "" {
		panic("spanz: tag key is empty")
	}
	for i := 0; i < len(s.pairs); i += 2 {
		if k, ok := s.pairs[i].(string); ok && k == key {
			s.pairs[i+1] = value
			return
		}
	}
	s.pairs = append(s.pairs, key, value)
}

// GetTag returns the value of a tag key.
func (s *MutableSpan) GetTag(key string) (string, bool) {
	for i := 0; i < len(s.pairs); i += 2 {
		if k, ok := s.pairs[i].(string); ok && k == key {
			return s.pairs[i+1].(string), true
		}
	}
	return "", false
}

// ForEachTag visits tags in write order until fn returns false.
func (s *MutableSpan) ForEachTag(fn func(key, value string) bool) {
	for i := 0; i < len(s.pairs); i += 2 {
		if k, ok := s.pairs[i].(string); ok {
			if !fn(k, s.pairs[i+1].(string)) {
				return
			}
		}
	}
}

// ForEachAnnotation visits annotations in write order until fn returns
// false.
func (s *MutableSpan) ForEachAnnotation(fn func(micros int64, value string) bool) {
	for i := 0; i < len(s.pairs); i += 2 {
		if ts, ok := s.pairs[i].(int64); ok {
			if !fn(ts, s.pairs[i+1].(string)) {
				return
			}
		}
	}
}

// TagCount returns the number of distinct tags.
func (s *MutableSpan) TagCount() int {
	n := 0
	for i := 0; i < len(s.pairs); i += 2 {
		if _, ok := s.pairs[i].(string); ok {
			n++
		}
	}
	return n
}

// clone returns a deep enough copy that later mutation of s is not
// observable through the copy.
func (s *MutableSpan) clone() *MutableSpan {
	c := *s
	if s.pairs != nil {
		c.pairs = append([]any(nil), s.pairs...)
	}
	return &c
}

// AnnotationCount returns the number of annotations.
func (s *MutableSpan) AnnotationCount() int {
	n := 0
	for i := 0; i < len(s.pairs); i += 2 {
		if _, ok := s.pairs[i].(int64); ok {
			n++
		}
	}
	return n
}
