package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Codes.Prefix != "WO" || cfg.Codes.PadWidth != 5 {
		t.Fatalf("unexpected code defaults: %+v", cfg.Codes)
	}
	if cfg.Steps.ProcessOffsetFromEnd != 2 {
		t.Fatalf("unexpected process offset: %d", cfg.Steps.ProcessOffsetFromEnd)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("codes:\n  prefix: BATCH\n  pad_width: 3\n"))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.Codes.Prefix != "BATCH" || cfg.Codes.PadWidth != 3 {
		t.Fatalf("override not applied: %+v", cfg.Codes)
	}
	// Untouched sections keep their defaults.
	if cfg.BOM.MaxDepth != 5 {
		t.Fatalf("expected default bom depth, got %d", cfg.BOM.MaxDepth)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yml  string
		want string
	}{
		{"empty prefix", "codes:\n  prefix: \"\"\n", "prefix"},
		{"pad width", "codes:\n  pad_width: 0\n", "pad_width"},
		{"bom depth", "bom:\n  max_depth: 0\n", "max_depth"},
		{"start hour", "scheduling:\n  start_hour: 24\n", "start_hour"},
		{"webhook url", "webhooks:\n  - events: [production.completed]\n", "url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Codes.Prefix != "WO" {
		t.Fatalf("expected defaults, got %+v", cfg.Codes)
	}
}

func TestLoadOptionalReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "craftline.yml")
	if err := os.WriteFile(path, []byte("codes:\n  prefix: LOT\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Codes.Prefix != "LOT" {
		t.Fatalf("expected LOT, got %q", cfg.Codes.Prefix)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("generated default does not parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated default invalid: %v", err)
	}
}
