package model

import (
	"encoding/json"
	"errors"
)

// trainingConfig is the subset of the artifact's training metadata the
// loader validates. Older export tooling wrote the optimizer learning
// rate under the key "lr"; newer exports use "learning_rate". The
// adapter accepts both and exposes only the fields the loading step
// needs, nothing is forwarded blindly.
type trainingConfig struct {
	Optimizer optimizerConfig `json:"optimizer"`
	Loss      string          `json:"loss"`
}

type optimizerConfig struct {
	Name         string
	LearningRate float64
}

func (o *optimizerConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name         string   `json:"name"`
		LearningRate *float64 `json:"learning_rate"`
		LR           *float64 `json:"lr"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Name = raw.Name
	switch {
	case raw.LearningRate != nil:
		o.LearningRate = *raw.LearningRate
	case raw.LR != nil:
		o.LearningRate = *raw.LR
	}
	return nil
}

func (c *trainingConfig) validate() error {
	if c.Optimizer.LearningRate < 0 {
		return errors.New("negative learning rate")
	}
	return nil
}
