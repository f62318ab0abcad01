package ml

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func smallArtifact(t *testing.T) *Artifact {
	t.Helper()
	rows, targets := synthRows(100, 9)
	cfg := DefaultTrainConfig()
	cfg.Booster.Iterations = 10
	artifact, err := TrainPipeline(rows, targets, cfg)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	return artifact
}

func TestSaveLoadModel(t *testing.T) {
	artifact := smallArtifact(t)
	path := filepath.Join(t.TempDir(), "models", "gbm_model.json")

	version, err := SaveModel(path, artifact)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if version != Checksum(data) {
		t.Fatalf("version %s is not the checksum of the file", version)
	}

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ModelVersion() != version || loaded.Path != path {
		t.Fatalf("unexpected version/path %s %s", loaded.ModelVersion(), loaded.Path)
	}
	if len(loaded.ShortVersion()) != 12 {
		t.Fatalf("expected 12 character short version, got %q", loaded.ShortVersion())
	}

	row := rowFor("T", 2018)
	want, err := artifact.Predict(row)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	got, err := loaded.Predict(row)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got != want {
		t.Fatalf("loaded artifact predicts %v, original %v", got, want)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the artifact in the directory, found %d entries", len(entries))
	}
}

func TestLoadModelMissing(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "absent.json"))
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %T", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestLoadModelCorrupt(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"garbage":        "not json",
		"wrong format":   `{"format":"pickle","format_version":1}`,
		"no booster":     `{"format":"bristolhouse/gbm","format_version":1,"target_transform":"none","preprocessor":{}}`,
		"bad transform":  `{"format":"bristolhouse/gbm","format_version":1,"target_transform":"sqrt"}`,
		"future version": `{"format":"bristolhouse/gbm","format_version":99}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := LoadModel(path); !errors.Is(err, ErrCorruptArtifact) {
				t.Fatalf("expected ErrCorruptArtifact, got %v", err)
			}
		})
	}
}

func TestArtifactValidateWidthMismatch(t *testing.T) {
	artifact := smallArtifact(t)
	artifact.Booster.NumFeatures++
	if err := artifact.Validate(); err == nil {
		t.Fatal("expected width mismatch error")
	}
	if _, err := SaveModel(filepath.Join(t.TempDir(), "m.json"), artifact); err == nil {
		t.Fatal("expected SaveModel to reject an invalid artifact")
	}
}
