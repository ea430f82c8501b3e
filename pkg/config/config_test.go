package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Processing.Workers != runtime.NumCPU() {
		t.Errorf("default workers = %d, want %d", cfg.Processing.Workers, runtime.NumCPU())
	}
	if cfg.Processing.Interp != "linear" {
		t.Errorf("default interp = %q, want linear", cfg.Processing.Interp)
	}
	if cfg.Output.DataType != "" {
		t.Errorf("default datatype = %q, want empty", cfg.Output.DataType)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Interp != "linear" {
		t.Errorf("missing file should yield defaults, got interp %q", cfg.Processing.Interp)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "voltransform.yaml")

	cfg := DefaultConfig()
	cfg.Processing.Workers = 3
	cfg.Processing.Interp = "cubic"
	cfg.Output.DataType = "int16"
	cfg.Output.Verbose = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got.Processing.Workers != 3 || got.Processing.Interp != "cubic" ||
		got.Output.DataType != "int16" || !got.Output.Verbose {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("processing: ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
