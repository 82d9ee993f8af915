package spanz

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LocalServiceName != DefaultLocalServiceName {
		t.Errorf("Expected %q, got %q", DefaultLocalServiceName, cfg.LocalServiceName)
	}
	if cfg.TraceID128Bit {
		t.Error("Expected 64-bit trace ids by default")
	}
}

func TestSanitizedDefaults(t *testing.T) {
	c := (&Config{}).sanitized()

	if c.LocalServiceName != DefaultLocalServiceName {
		t.Errorf("Expected default service name, got %q", c.LocalServiceName)
	}
	if c.SupportsJoin == nil || !*c.SupportsJoin {
		t.Error("Expected join supported by default")
	}
	if c.TrackOrphans == nil || !*c.TrackOrphans {
		t.Error("Expected orphan tracking on by default")
	}
	if c.Clock == nil || c.Logger == nil || c.Sampler == nil {
		t.Error("Expected clock, logger, and sampler defaults")
	}
	if _, ok := c.Propagation.(B3Factory); !ok {
		t.Errorf("Expected B3 propagation by default, got %T", c.Propagation)
	}
}

func TestSanitizedNilConfig(t *testing.T) {
	var cfg *Config
	c := cfg.sanitized()
	if c.Sampler == nil || c.Propagation == nil {
		t.Error("Expected full defaults from a nil config")
	}
}

func TestSanitizedPreservesExplicitValues(t *testing.T) {
	no := false
	c := (&Config{
		LocalServiceName: "checkout",
		SupportsJoin:     &no,
		TrackOrphans:     &no,
		Sampler:          NeverSample,
	}).sanitized()

	if c.LocalServiceName != "checkout" {
		t.Errorf("Expected explicit service name kept, got %q", c.LocalServiceName)
	}
	if *c.SupportsJoin || *c.TrackOrphans {
		t.Error("Expected explicit false values kept")
	}
	if c.Sampler != NeverSample {
		t.Error("Expected the explicit sampler kept")
	}
}

// require128Factory forces wide trace ids regardless of the configured flag.
type require128Factory struct {
	FactoryDefaults
}

func (require128Factory) Get() Propagation { return B3Propagation{} }
func (require128Factory) Requires128BitTraceID() bool { return true }

func TestSanitizedFactoryImplies128Bit(t *testing.T) {
	c := (&Config{Propagation: require128Factory{}}).sanitized()
	if !c.TraceID128Bit {
		t.Error("Expected the factory requirement to force 128-bit ids")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spanz.yaml")
	content := []byte(`local_service_name: checkout
trace_id_128bit: true
supports_join: false
always_sample_local: true
track_orphans: false
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LocalServiceName != "checkout" {
		t.Errorf("Expected checkout, got %q", cfg.LocalServiceName)
	}
	if !cfg.TraceID128Bit || !cfg.AlwaysSampleLocal {
		t.Error("Expected boolean fields loaded")
	}
	if cfg.SupportsJoin == nil || *cfg.SupportsJoin {
		t.Error("Expected supports_join false")
	}
	if cfg.TrackOrphans == nil || *cfg.TrackOrphans {
		t.Error("Expected track_orphans false")
	}
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spanz.yaml")
	if err := os.WriteFile(path, []byte("local_service_name: api\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LocalServiceName != "api" {
		t.Errorf("Expected api, got %q", cfg.LocalServiceName)
	}
	if cfg.SupportsJoin != nil || cfg.TrackOrphans != nil {
		t.Error("Expected unset gates left for sanitized defaults")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("local_service_name: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected an error for malformed yaml")
	}
}
