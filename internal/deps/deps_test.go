package deps_test

import (
	"os"
	"path/filepath"
	"testing"

	"audiobatch/internal/config"
	"audiobatch/internal/deps"
)

func TestCheckResolvesBinariesOnPath(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fakebin")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub binary: %v", err)
	}
	t.Setenv("PATH", dir)

	statuses := deps.Check([]deps.Requirement{
		{Name: "present", Command: "fakebin"},
		{Name: "absent", Command: "no-such-binary"},
	})
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if !statuses[0].Available {
		t.Fatalf("present binary reported unavailable: %+v", statuses[0])
	}
	if statuses[0].Target != script {
		t.Fatalf("resolved target = %q, want %q", statuses[0].Target, script)
	}
	if statuses[1].Available || statuses[1].Detail == "" {
		t.Fatalf("absent binary not flagged: %+v", statuses[1])
	}
}

func TestCheckStatsModelFiles(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "silero.onnx")
	if err := os.WriteFile(model, []byte("onnx"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}

	statuses := deps.Check([]deps.Requirement{
		{Name: "model", Path: model},
		{Name: "missing model", Path: filepath.Join(dir, "nope.onnx")},
		{Name: "directory", Path: dir},
	})
	if !statuses[0].Available {
		t.Fatalf("existing model reported unavailable: %+v", statuses[0])
	}
	if statuses[1].Available {
		t.Fatalf("missing model reported available: %+v", statuses[1])
	}
	if statuses[2].Available {
		t.Fatalf("directory accepted as model file: %+v", statuses[2])
	}
}

func TestRequirementsFollowProviders(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.VADProvider = config.ProviderNull
	cfg.Pipeline.ASRProvider = config.ProviderNull

	base := len(deps.Requirements(&cfg))

	cfg.Pipeline.VADProvider = config.ProviderSilero
	cfg.Pipeline.VADModelPath = "/models/silero.onnx"
	cfg.Pipeline.ASRProvider = config.ProviderSherpa
	cfg.Pipeline.ASRModelDir = "/models/transducer"

	withModels := deps.Requirements(&cfg)
	if len(withModels) <= base {
		t.Fatalf("model providers added no requirements: %d vs %d", len(withModels), base)
	}
	found := false
	for _, req := range withModels {
		if req.Path == "/models/transducer/tokens.txt" {
			found = true
		}
	}
	if !found {
		t.Fatal("sherpa tokens.txt requirement missing")
	}
}

func TestMissingIgnoresOptional(t *testing.T) {
	missing := deps.Missing([]deps.Status{
		{Name: "required", Available: false},
		{Name: "optional", Available: false, Optional: true},
		{Name: "fine", Available: true},
	})
	if len(missing) != 1 || missing[0].Name != "required" {
		t.Fatalf("unexpected missing set: %+v", missing)
	}
}
