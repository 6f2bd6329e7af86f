package maml

import (
	"fmt"
	"strings"

	"github.com/born-ml/fsmaml/internal/episode"
	"github.com/born-ml/fsmaml/internal/optim"
)

// Mode selects how episodes are labelled.
type Mode int

const (
	// ModeSingle trains each task on its own examples labelled with the
	// class id (multi-class framing).
	ModeSingle Mode = iota

	// ModeBinary trains each task as a discriminator over every task in the
	// batch: 1 for the task's examples, 0 for the rest.
	ModeBinary
)

// String returns the config name of m.
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeBinary:
		return "binary"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "single" or "binary". Empty means single.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return ModeSingle, nil
	case "binary":
		return ModeBinary, nil
	default:
		return 0, fmt.Errorf("%w: mode %q (want single or binary)", episode.ErrInvalidArgument, s)
	}
}

// Config holds the hyperparameters of a MAML run.
type Config struct {
	KShot  int // Support examples per task
	KQuery int // Query examples per task

	Inner optim.Spec // Task-local optimizer, rebuilt for every task
	Meta  optim.Spec // Meta optimizer

	InnerSteps  int // Gradient steps on the support set (default: 1)
	OuterEpochs int // Passes over the episode sampler (default: 1)

	Mode Mode

	// Shuffle permutes rows within support and query sets. Off by default.
	Shuffle bool
	Seed    int64
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	if c.KShot <= 0 || c.KQuery <= 0 {
		return fmt.Errorf("%w: k_shot=%d and k_query=%d must be positive", episode.ErrConfiguration, c.KShot, c.KQuery)
	}
	if c.InnerSteps == 0 {
		c.InnerSteps = 1
	}
	if c.OuterEpochs == 0 {
		c.OuterEpochs = 1
	}
	if c.InnerSteps < 0 {
		return fmt.Errorf("%w: inner steps %d", episode.ErrInvalidArgument, c.InnerSteps)
	}
	if c.OuterEpochs < 0 {
		return fmt.Errorf("%w: outer epochs %d", episode.ErrInvalidArgument, c.OuterEpochs)
	}
	if c.Mode != ModeSingle && c.Mode != ModeBinary {
		return fmt.Errorf("%w: %v", episode.ErrInvalidArgument, c.Mode)
	}

	if err := validateSpec(c.Inner); err != nil {
		return fmt.Errorf("inner optimizer: %w", err)
	}
	if err := validateSpec(c.Meta); err != nil {
		return fmt.Errorf("meta optimizer: %w", err)
	}
	return nil
}

func validateSpec(s optim.Spec) error {
	var lr, wd float32
	switch s.Kind {
	case optim.KindSGD:
		lr, wd = s.SGD.LR, s.SGD.WeightDecay
		if s.SGD.Momentum < 0 || s.SGD.Momentum >= 1 {
			return fmt.Errorf("%w: momentum %v not in [0, 1)", episode.ErrInvalidArgument, s.SGD.Momentum)
		}
	case optim.KindAdam:
		lr, wd = s.Adam.LR, s.Adam.WeightDecay
	default:
		return fmt.Errorf("%w: %v", optim.ErrUnsupportedOptimizer, s.Kind)
	}
	if lr <= 0 {
		return fmt.Errorf("%w: learning rate %v must be positive", episode.ErrInvalidArgument, lr)
	}
	if wd < 0 {
		return fmt.Errorf("%w: weight decay %v", episode.ErrInvalidArgument, wd)
	}
	return nil
}
