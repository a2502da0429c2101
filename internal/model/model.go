package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/heartrisk/apiserver/types"
)

// ErrUnavailable is returned when no model artifact could be loaded.
var ErrUnavailable = errors.New("model unavailable")

// Epsilon guards standardization against division by a near-zero
// standard deviation.
const Epsilon = 1e-8

// Network is a feed-forward binary classifier loaded from an artifact
// file. It is read-only after Load and safe for concurrent use.
type Network struct {
	layers []denseLayer
	scaler *Scaler
}

type denseLayer struct {
	// weights[j][i] connects input i to output j.
	weights    [][]float64
	biases     []float64
	activation string
}

// Scaler holds per-feature population statistics fit at training time.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

type artifact struct {
	Format string `json:"format"`
	Layers []struct {
		Weights    [][]float64 `json:"weights"`
		Biases     []float64   `json:"biases"`
		Activation string      `json:"activation"`
	} `json:"layers"`
	Scaler *Scaler         `json:"scaler"`
	Config *trainingConfig `json:"config"`
}

const artifactFormat = "dense-v1"

// Load reads and validates a model artifact from disk.
func Load(path string) (*Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	var art artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if art.Format != artifactFormat {
		return nil, fmt.Errorf("unsupported artifact format %q", art.Format)
	}
	if len(art.Layers) == 0 {
		return nil, errors.New("artifact has no layers")
	}
	if art.Config != nil {
		if err := art.Config.validate(); err != nil {
			return nil, fmt.Errorf("artifact training config: %w", err)
		}
	}

	net := &Network{scaler: art.Scaler}
	inputs := types.NumFeatures
	for i, l := range art.Layers {
		if len(l.Weights) == 0 || len(l.Weights) != len(l.Biases) {
			return nil, fmt.Errorf("layer %d: weight/bias shape mismatch", i)
		}
		for j, row := range l.Weights {
			if len(row) != inputs {
				return nil, fmt.Errorf("layer %d unit %d: expected %d inputs, got %d", i, j, inputs, len(row))
			}
		}
		switch l.Activation {
		case "relu", "sigmoid", "tanh", "linear":
		default:
			return nil, fmt.Errorf("layer %d: unknown activation %q", i, l.Activation)
		}
		net.layers = append(net.layers, denseLayer{
			weights:    l.Weights,
			biases:     l.Biases,
			activation: l.Activation,
		})
		inputs = len(l.Weights)
	}

	last := net.layers[len(net.layers)-1]
	if len(last.weights) != 1 {
		return nil, fmt.Errorf("final layer must have a single output, got %d", len(last.weights))
	}
	if s := net.scaler; s != nil {
		if len(s.Mean) != types.NumFeatures || len(s.Std) != types.NumFeatures {
			return nil, errors.New("scaler statistics must cover all features")
		}
	}

	return net, nil
}

// Scaler returns the population statistics shipped with the artifact,
// or nil for legacy artifacts trained without one.
func (n *Network) Scaler() *Scaler {
	return n.scaler
}

// Predict runs a forward pass over the normalized feature vector and
// returns the predicted probability. The final activation clamps the
// output into [0,1] even for linear output layers.
func (n *Network) Predict(ctx context.Context, features [types.NumFeatures]float64) (float64, error) {
	in := features[:]
	for _, layer := range n.layers {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		out := make([]float64, len(layer.weights))
		for j, row := range layer.weights {
			sum := layer.biases[j]
			for i, w := range row {
				sum += w * in[i]
			}
			out[j] = activate(layer.activation, sum)
		}
		in = out
	}

	p := in[0]
	if math.IsNaN(p) {
		return 0, errors.New("model produced NaN")
	}
	return math.Min(1, math.Max(0, p)), nil
}

func activate(name string, x float64) float64 {
	switch name {
	case "relu":
		return math.Max(0, x)
	case "sigmoid":
		return 1 / (1 + math.Exp(-x))
	case "tanh":
		return math.Tanh(x)
	default:
		return x
	}
}
