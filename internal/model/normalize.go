package model

import (
	"math"

	"github.com/heartrisk/apiserver/types"
)

// Normalize standardizes a feature vector before scoring.
//
// When the artifact ships population statistics, each feature is
// z-scored against the mean and standard deviation fit at training
// time. Legacy artifacts without a scaler fall back to standardizing
// against the mean and standard deviation of the request's own
// thirteen values, which is what the original export pipeline did.
// In both paths a standard deviation at or below Epsilon yields 0
// instead of dividing by near-zero.
func Normalize(features [types.NumFeatures]float64, scaler *Scaler) [types.NumFeatures]float64 {
	if scaler != nil {
		var out [types.NumFeatures]float64
		for i, v := range features {
			if scaler.Std[i] <= Epsilon {
				out[i] = 0
				continue
			}
			out[i] = (v - scaler.Mean[i]) / scaler.Std[i]
		}
		return out
	}

	mean := 0.0
	for _, v := range features {
		mean += v
	}
	mean /= types.NumFeatures

	variance := 0.0
	for _, v := range features {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / types.NumFeatures)

	var out [types.NumFeatures]float64
	if std <= Epsilon {
		return out
	}
	for i, v := range features {
		out[i] = (v - mean) / (std + Epsilon)
	}
	return out
}
