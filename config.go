package spanz

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultLocalServiceName = "unknown"
)

// Config is the tracer configuration surface. Fields with yaml tags load
// from a file via LoadConfig; the rest are wired in code. A nil Config or
// any zero field falls back to the documented default.
type Config struct {
	// LocalServiceName names this process in reported spans.
	LocalServiceName string `yaml:"local_service_name"`

	// TraceID128Bit makes new traces carry 128-bit ids. Implied when the
	// propagation factory requires them.
	TraceID128Bit bool `yaml:"trace_id_128bit"`

	// SupportsJoin is the tracer-level join gate, default true. Join also
	// requires the propagation factory to report support; the two gates
	// are deliberately independent.
	SupportsJoin *bool `yaml:"supports_join"`

	// AlwaysSampleLocal records every span in-process even when the trace
	// is not sampled for remote reporting.
	AlwaysSampleLocal bool `yaml:"always_sample_local"`

	// TrackOrphans enables orphan detection and the OrphanTracker
	// terminal handler, default true.
	TrackOrphans *bool `yaml:"track_orphans"`

	// Clock supplies timestamps. Defaults to the real clock.
	Clock clockz.Clock `yaml:"-"`

	// Logger receives swallowed-error reports. Defaults to a stderr
	// logger tagged with the component name.
	Logger *zerolog.Logger `yaml:"-"`

	// Sampler decides new traces. Defaults to AlwaysSample.
	Sampler Sampler `yaml:"-"`

	// Propagation supplies the wire codec, capability flags, and context
	// decoration. Defaults to B3.
	Propagation PropagationFactory `yaml:"-"`

	// Handlers observe spans between sampling and reporting, in
	// registration order.
	Handlers []SpanHandler `yaml:"-"`

	// Current manages the logically current context. Defaults to
	// NewCurrentTraceContext with no decorators.
	Current CurrentTraceContext `yaml:"-"`

	// PanicHook, if set, observes handler panics after they are logged.
	PanicHook func(r any) `yaml:"-"`
}

// DefaultConfig returns the default tracer configuration.
func DefaultConfig() *Config {
	return &Config{
		LocalServiceName: DefaultLocalServiceName,
	}
}

// LoadConfig reads yaml-tagged configuration from path, applied over the
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// sanitized returns a copy with every unset field replaced by its default.
func (c *Config) sanitized() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.LocalServiceName == "" {
		out.LocalServiceName = DefaultLocalServiceName
	}
	if out.SupportsJoin == nil {
		yes := true
		out.SupportsJoin = &yes
	}
	if out.TrackOrphans == nil {
		yes := true
		out.TrackOrphans = &yes
	}
	if out.Clock == nil {
		out.Clock = clockz.RealClock
	}
	if out.Logger == nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "spanz").Logger()
		out.Logger = &logger
	}
	if out.Sampler == nil {
		out.Sampler = AlwaysSample
	}
	if out.Propagation == nil {
		out.Propagation = B3Factory{}
	}
	if out.Propagation.Requires128BitTraceID() {
		out.TraceID128Bit = true
	}
	return out
}
