package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yngvem/zebrafish-bloodflow/pkg/centerline"
	"github.com/yngvem/zebrafish-bloodflow/pkg/clip"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Centerline.KNeighbours != centerline.DefaultKNeighbours {
		t.Errorf("Expected kNeighbours %d, got %d", centerline.DefaultKNeighbours, cfg.Centerline.KNeighbours)
	}
	if cfg.Centerline.NormalEstimationLength != clip.DefaultNormalEstimationLength {
		t.Errorf("Expected normalEstimationLength %d, got %d", clip.DefaultNormalEstimationLength, cfg.Centerline.NormalEstimationLength)
	}
	if cfg.Centerline.Bounds != 0 {
		t.Errorf("Expected bounds 0, got %f", cfg.Centerline.Bounds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config is invalid: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Centerline.KNeighbours != centerline.DefaultKNeighbours {
		t.Errorf("Expected defaults for a missing file, got kNeighbours %d", cfg.Centerline.KNeighbours)
	}
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "centerline:\n  kNeighbours: 4\n  bounds: 50\nprocessing:\n  numCores: 3\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Centerline.KNeighbours != 4 || cfg.Centerline.Bounds != 50 || cfg.Processing.NumCores != 3 {
		t.Errorf("Unexpected values %+v", cfg)
	}
	// Unset keys keep their defaults
	if cfg.Centerline.NormalEstimationLength != clip.DefaultNormalEstimationLength {
		t.Errorf("Expected default normalEstimationLength, got %d", cfg.Centerline.NormalEstimationLength)
	}
	if cfg.Output.IntermediaryDir != "intermediary_results" {
		t.Errorf("Expected default intermediaryDir, got %q", cfg.Output.IntermediaryDir)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := map[string]string{
		"syntax":   "centerline: [",
		"k":        "centerline:\n  kNeighbours: 0\n",
		"bounds":   "centerline:\n  bounds: -1\n",
		"cores":    "processing:\n  numCores: 0\n",
		"estimate": "centerline:\n  normalEstimationLength: 0\n",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Centerline.KNeighbours = 6
	cfg.Output.SaveIntermediaryResults = true
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Centerline.KNeighbours != 6 || !loaded.Output.SaveIntermediaryResults {
		t.Errorf("Saved values were not loaded back: %+v", loaded)
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Config file was not created: %v", err)
	}
}

func TestToParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Centerline.KNeighbours = 3
	cfg.Centerline.Bounds = 12.5
	cfg.Processing.NumCores = 2
	cfg.Output.IntermediaryDir = "stages"

	params := cfg.ToParams()
	if params.KNeighbours != 3 || params.Bounds != 12.5 || params.NumCores != 2 || params.IntermediaryDir != "stages" {
		t.Errorf("Unexpected params %+v", params)
	}
	if params.NormalEstimationLength != clip.DefaultNormalEstimationLength {
		t.Errorf("Expected normal estimation length %d, got %d", clip.DefaultNormalEstimationLength, params.NormalEstimationLength)
	}
}
