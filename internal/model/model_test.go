package model

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/heartrisk/apiserver/types"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

// A single sigmoid unit with zero weights and bias scores 0.5 for any
// input, which makes forward-pass assertions exact.
const neutralArtifact = `{
	"format": "dense-v1",
	"layers": [
		{
			"weights": [[0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]],
			"biases": [0],
			"activation": "sigmoid"
		}
	],
	"config": {"optimizer": {"name": "adam", "lr": 0.001}, "loss": "binary_crossentropy"}
}`

func TestLoadAcceptsLegacyOptimizerConfig(t *testing.T) {
	net, err := Load(writeArtifact(t, neutralArtifact))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if net.Scaler() != nil {
		t.Errorf("expected no scaler on legacy artifact")
	}
}

func TestLoadRejectsBadArtifacts(t *testing.T) {
	cases := map[string]string{
		"wrong format": `{"format": "h5", "layers": [{"weights": [[0]], "biases": [0], "activation": "relu"}]}`,
		"no layers":    `{"format": "dense-v1", "layers": []}`,
		"shape mismatch": `{"format": "dense-v1", "layers": [
			{"weights": [[1, 2]], "biases": [0], "activation": "relu"}
		]}`,
		"unknown activation": `{"format": "dense-v1", "layers": [
			{"weights": [[0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]], "biases": [0], "activation": "softmax"}
		]}`,
		"multi-output final layer": `{"format": "dense-v1", "layers": [
			{"weights": [[0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0], [0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]], "biases": [0, 0], "activation": "sigmoid"}
		]}`,
	}
	for name, content := range cases {
		if _, err := Load(writeArtifact(t, content)); err == nil {
			t.Errorf("%s: expected load error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestPredictReturnsProbability(t *testing.T) {
	net, err := Load(writeArtifact(t, neutralArtifact))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	features := [types.NumFeatures]float64{63, 1, 3, 145, 233, 1, 0, 150, 0, 2.3, 0, 0, 1}
	p, err := net.Predict(context.Background(), Normalize(features, nil))
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	if p < 0 || p > 1 {
		t.Fatalf("probability out of range: %v", p)
	}
	if math.Abs(p-0.5) > 1e-12 {
		t.Errorf("neutral network should score 0.5, got %v", p)
	}
}

func TestPredictHonorsContext(t *testing.T) {
	net, err := Load(writeArtifact(t, neutralArtifact))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := net.Predict(ctx, [types.NumFeatures]float64{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNormalizePerRequest(t *testing.T) {
	var features [types.NumFeatures]float64
	for i := range features {
		features[i] = float64(i)
	}
	out := Normalize(features, nil)

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if math.Abs(sum) > 1e-9 {
		t.Errorf("normalized values should center on zero, sum = %v", sum)
	}
}

func TestNormalizeDegenerateVariance(t *testing.T) {
	features := [types.NumFeatures]float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	out := Normalize(features, nil)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("feature %d: expected 0 for zero-variance input, got %v", i, v)
		}
	}
}

func TestNormalizeWithScaler(t *testing.T) {
	scaler := &Scaler{
		Mean: make([]float64, types.NumFeatures),
		Std:  make([]float64, types.NumFeatures),
	}
	for i := range scaler.Std {
		scaler.Mean[i] = 10
		scaler.Std[i] = 2
	}
	// Degenerate population std on one feature must yield 0.
	scaler.Std[4] = 0

	features := [types.NumFeatures]float64{14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14}
	out := Normalize(features, scaler)
	for i, v := range out {
		if i == 4 {
			if v != 0 {
				t.Errorf("feature 4: expected 0 for degenerate std, got %v", v)
			}
			continue
		}
		if math.Abs(v-2) > 1e-12 {
			t.Errorf("feature %d: expected 2, got %v", i, v)
		}
	}
}

func TestRefUnavailableAndReload(t *testing.T) {
	ref := NewRef()
	if _, err := ref.Get(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	path := writeArtifact(t, neutralArtifact)
	if err := ref.Reload(path); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if _, err := ref.Get(); err != nil {
		t.Fatalf("Get after reload: %v", err)
	}

	// A failed reload keeps the previous snapshot active.
	if err := ref.Reload(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected reload error")
	}
	if _, err := ref.Get(); err != nil {
		t.Fatalf("previous snapshot should survive a failed reload: %v", err)
	}
}
