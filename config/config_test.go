package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bristolhouse/geo"
	"bristolhouse/ml"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8000 || cfg.Model.Path != "models/gbm_model.json" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Serving.StrictValidation {
		t.Fatal("strict validation should be off by default")
	}
	if cfg.Serving.Bounds != geo.Bristol {
		t.Fatalf("expected Bristol bounds, got %v", cfg.Serving.Bounds)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
http:
  port: 9090
  timeout: 15s
  allowed_origins: ["http://localhost:8501"]
serving:
  strict_validation: true
  cache_size: 16
model:
  path: /srv/models/gbm_model.json
  remote:
    endpoint: s3.example.com
    bucket: dvc
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 || cfg.HTTP.Timeout != 15*time.Second {
		t.Fatalf("unexpected http config %+v", cfg.HTTP)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 || cfg.HTTP.AllowedOrigins[0] != "http://localhost:8501" {
		t.Fatalf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}
	if !cfg.Serving.StrictValidation || cfg.Serving.CacheSize != 16 {
		t.Fatalf("unexpected serving config %+v", cfg.Serving)
	}
	if cfg.Serving.YearMax != 2025 {
		t.Fatalf("unset keys should keep defaults, got year_max %d", cfg.Serving.YearMax)
	}
	if !cfg.Model.Remote.Enabled() {
		t.Fatal("expected remote to be enabled")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "7000")
	t.Setenv("MODEL_PATH", "/tmp/m.json")
	t.Setenv("STRICT_VALIDATION", "true")
	t.Setenv("DVC_REMOTE_BUCKET", "artifacts")
	t.Setenv("CORS_ORIGINS", "http://a, http://b")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 7000 || cfg.Model.Path != "/tmp/m.json" || !cfg.Serving.StrictValidation {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Model.Remote.Bucket != "artifacts" {
		t.Fatalf("expected bucket artifacts, got %q", cfg.Model.Remote.Bucket)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "http://b" {
		t.Fatalf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.HTTP.Addr() != ":7000" {
		t.Fatalf("unexpected addr %s", cfg.HTTP.Addr())
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "http: [",
		"bad port":        "http:\n  port: 70000\n",
		"inverted bounds": "serving:\n  bounds: {min_lat: 52, max_lat: 51, min_lon: -2.7, max_lon: -2.4}\n",
		"empty years":     "serving:\n  year_min: 2030\n  year_max: 2020\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "config.yaml", body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	t.Setenv("HTTP_PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric HTTP_PORT")
	}
}

func TestLoadParams(t *testing.T) {
	path := writeFile(t, "params.yaml", `
data:
  target_city: BRISTOL
split:
  test_size: 0.25
  random_state: 7
cleaning:
  drop_duplicates: true
model:
  log_target: true
  gbm:
    iterations: 300
    learning_rate: 0.1
    depth: 6
    loss_function: MAE
    random_state: 1
`)
	params, err := LoadParams(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Split.TestSize != 0.25 || params.Split.RandomState != 7 {
		t.Fatalf("unexpected split %+v", params.Split)
	}
	if !params.Cleaning.DropDuplicates || params.Cleaning.DropInvalidPrice {
		t.Fatalf("unexpected cleaning %+v", params.Cleaning)
	}
	cfg := params.TrainConfig()
	if !cfg.LogTarget || cfg.Booster.Iterations != 300 || cfg.Booster.LossFunction != ml.LossMAE {
		t.Fatalf("unexpected train config %+v", cfg)
	}
	if cfg.Booster.BorderCount != 254 {
		t.Fatalf("unset gbm keys should keep defaults, got border_count %d", cfg.Booster.BorderCount)
	}
	if params.Features.Target != "price" || len(params.Features.SelectedFeatures) != 6 {
		t.Fatalf("unexpected features %+v", params.Features)
	}
}

func TestLoadParamsInvalid(t *testing.T) {
	if _, err := LoadParams(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing params file")
	}
	bad := writeFile(t, "params.yaml", "split:\n  test_size: 1.5\n")
	if _, err := LoadParams(bad); err == nil {
		t.Fatal("expected error for test_size 1.5")
	}
	unselected := writeFile(t, "params.yaml", "features:\n  selected_features: [lat, long]\n")
	if _, err := LoadParams(unselected); err == nil {
		t.Fatal("expected error when a model feature is not selected")
	}
}
