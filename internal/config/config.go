// Package config loads the YAML run configuration of a meta-training job.
//
// A file has three sections:
//
//	dataset:  what to sample episodes from (k_shot, k_query, workers, ...)
//	train:    where and what to save (checkpoint, logging, save_dir, ...)
//	method:   optimizers, epochs, mode, criterion, device, model
//
// Missing keys keep the values of Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/fsmaml/internal/device"
	"github.com/born-ml/fsmaml/internal/episode"
	"github.com/born-ml/fsmaml/internal/maml"
	"github.com/born-ml/fsmaml/internal/nn"
	"github.com/born-ml/fsmaml/internal/optim"
)

// ErrInvalidArgument reports a config value outside its domain.
var ErrInvalidArgument = fmt.Errorf("config: %w", episode.ErrInvalidArgument)

// Dataset names.
const (
	DatasetMNIST     = "mnist"
	DatasetSynthetic = "synthetic"
)

// MethodFSMAML is the only training method.
const MethodFSMAML = "fsmaml"

// Config is a full run configuration.
type Config struct {
	Dataset Dataset `yaml:"dataset"`
	Train   Train   `yaml:"train"`
	Method  Method  `yaml:"method"`
}

// Dataset describes the episode source.
type Dataset struct {
	Name      string    `yaml:"name"`              // "mnist" or "synthetic"
	Root      string    `yaml:"root"`              // IDX file directory for mnist
	KShot     int       `yaml:"k_shot"`            // Support examples per task
	KQuery    int       `yaml:"k_query"`           // Query examples per task
	Workers   int       `yaml:"workers"`           // Prefetch workers
	PinMemory bool      `yaml:"pin_memory"`        // Ignored on cpu
	Classes   []int     `yaml:"classes,omitempty"` // Restrict tasks to these classes; empty means all
	Shuffle   bool      `yaml:"shuffle"`           // Reshuffle each class every epoch
	Synthetic Synthetic `yaml:"synthetic"`
}

// Synthetic configures the Gaussian blob dataset.
type Synthetic struct {
	Classes  int     `yaml:"classes"`
	PerClass int     `yaml:"per_class"`
	TestPer  int     `yaml:"test_per_class"` // Held-out examples per class
	Dim      int     `yaml:"dim"`
	Spread   float64 `yaml:"spread"`
}

// Train controls checkpointing and logging.
type Train struct {
	Checkpoint bool   `yaml:"checkpoint"`
	Logging    bool   `yaml:"logging"`
	SaveDir    string `yaml:"save_dir"` // Must exist when set; empty means the working directory
	SaveBest   bool   `yaml:"save_best"`
	SaveLast   bool   `yaml:"save_last"`
	Extension  string `yaml:"extension"`
}

// Method holds the meta-learning hyperparameters.
type Method struct {
	Name string `yaml:"name"`

	MetaOptimizer string  `yaml:"meta_opt"`
	MetaLR        float32 `yaml:"meta_lr"`
	MetaWD        float32 `yaml:"meta_wd"`

	InnerOptimizer string  `yaml:"sp_opt"`
	InnerLR        float32 `yaml:"sp_lr"`
	InnerWD        float32 `yaml:"sp_wd"`

	OuterEpochs int `yaml:"outer_epoch"`
	InnerEpochs int `yaml:"inner_epoch"`

	Mode      string `yaml:"mode"`      // "single" or "binary"
	Criterion string `yaml:"criterion"` // Defaults by mode
	Shuffle   bool   `yaml:"shuffle"`   // Permute rows inside support and query sets
	Seed      int64  `yaml:"seed"`
	Device    string `yaml:"device"`
	Hidden    []int  `yaml:"hidden"` // MLP hidden layer sizes
}

// Default returns the configuration used when a key is absent.
func Default() *Config {
	return &Config{
		Dataset: Dataset{
			Name:    DatasetSynthetic,
			Root:    "data",
			KShot:   5,
			KQuery:  5,
			Workers: 1,
		},
		Train: Train{
			Checkpoint: true,
			Logging:    true,
			SaveBest:   true,
			Extension:  "ckpt",
		},
		Method: Method{
			Name:           MethodFSMAML,
			MetaOptimizer:  "adam",
			MetaLR:         0.001,
			MetaWD:         1e-4,
			InnerOptimizer: "adam",
			InnerLR:        0.01,
			InnerWD:        1e-4,
			OuterEpochs:    1,
			InnerEpochs:    1,
			Mode:           "single",
			Device:         "cpu",
			Hidden:         []int{64},
		},
	}
}

// Overrides captures CLI supplied values. Zero values leave the config as is.
type Overrides struct {
	InnerLR     float32
	MetaLR      float32
	KShot       int
	KQuery      int
	Workers     int
	OuterEpochs int
	InnerEpochs int
	Device      string
	SaveDir     string
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read decodes the YAML file at path without validating it, so that
// overrides can still fill in missing values.
func Read(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec // G304: config path is user supplied
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of Default. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.InnerLR > 0 {
		c.Method.InnerLR = o.InnerLR
	}
	if o.MetaLR > 0 {
		c.Method.MetaLR = o.MetaLR
	}
	if o.KShot > 0 {
		c.Dataset.KShot = o.KShot
	}
	if o.KQuery > 0 {
		c.Dataset.KQuery = o.KQuery
	}
	if o.Workers > 0 {
		c.Dataset.Workers = o.Workers
	}
	if o.OuterEpochs > 0 {
		c.Method.OuterEpochs = o.OuterEpochs
	}
	if o.InnerEpochs > 0 {
		c.Method.InnerEpochs = o.InnerEpochs
	}
	if o.Device != "" {
		c.Method.Device = o.Device
	}
	if o.SaveDir != "" {
		c.Train.SaveDir = o.SaveDir
	}
}

// Validate verifies the config is runnable and fills derived defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	d := &c.Dataset
	if d.KShot <= 0 || d.KQuery <= 0 {
		return fmt.Errorf("%w: k_shot=%d and k_query=%d must be positive", episode.ErrConfiguration, d.KShot, d.KQuery)
	}
	switch d.Name {
	case DatasetMNIST:
		if d.Root == "" {
			return fmt.Errorf("%w: dataset.root is required for mnist", ErrInvalidArgument)
		}
	case DatasetSynthetic:
	default:
		return fmt.Errorf("%w: dataset %q (want %s or %s)", ErrInvalidArgument, d.Name, DatasetMNIST, DatasetSynthetic)
	}
	if d.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0 (got %d)", ErrInvalidArgument, d.Workers)
	}
	if d.Workers == 0 {
		d.Workers = 1
	}

	if c.Train.Extension == "" {
		c.Train.Extension = "ckpt"
	}
	c.Train.Extension = strings.TrimPrefix(c.Train.Extension, ".")

	m := &c.Method
	if m.Name != MethodFSMAML {
		return fmt.Errorf("%w: method %q", ErrInvalidArgument, m.Name)
	}
	if _, err := optim.ParseKind(m.MetaOptimizer); err != nil {
		return fmt.Errorf("meta_opt: %w", err)
	}
	if _, err := optim.ParseKind(m.InnerOptimizer); err != nil {
		return fmt.Errorf("sp_opt: %w", err)
	}
	rates := []struct {
		name string
		v    float32
	}{{"meta_lr", m.MetaLR}, {"sp_lr", m.InnerLR}}
	for _, r := range rates {
		if r.v <= 0 {
			return fmt.Errorf("%w: %s must be > 0 (got %v)", ErrInvalidArgument, r.name, r.v)
		}
	}
	decays := []struct {
		name string
		v    float32
	}{{"meta_wd", m.MetaWD}, {"sp_wd", m.InnerWD}}
	for _, r := range decays {
		if r.v < 0 {
			return fmt.Errorf("%w: %s must be >= 0 (got %v)", ErrInvalidArgument, r.name, r.v)
		}
	}
	if m.OuterEpochs <= 0 || m.InnerEpochs <= 0 {
		return fmt.Errorf("%w: outer_epoch=%d and inner_epoch=%d must be positive", ErrInvalidArgument, m.OuterEpochs, m.InnerEpochs)
	}

	mode, err := maml.ParseMode(m.Mode)
	if err != nil {
		return err
	}
	if m.Criterion == "" {
		m.Criterion = nn.CriterionCrossEntropy
		if mode == maml.ModeBinary {
			m.Criterion = nn.CriterionBCEWithLogits
		}
	}
	if m.Criterion != nn.CriterionCrossEntropy && m.Criterion != nn.CriterionBCEWithLogits {
		return fmt.Errorf("%w: %q", nn.ErrUnknownCriterion, m.Criterion)
	}
	// Binary tasks emit one logit per row; single tasks emit one per class.
	want := nn.CriterionCrossEntropy
	if mode == maml.ModeBinary {
		want = nn.CriterionBCEWithLogits
	}
	if m.Criterion != want {
		return fmt.Errorf("%w: criterion %q does not fit mode %q (want %q)", ErrInvalidArgument, m.Criterion, m.Mode, want)
	}
	if _, err := device.Parse(m.Device); err != nil {
		return err
	}
	for _, h := range m.Hidden {
		if h <= 0 {
			return fmt.Errorf("%w: hidden layer size %d", ErrInvalidArgument, h)
		}
	}
	return nil
}

// MAML builds the trainer config. c must be validated.
func (c *Config) MAML() (maml.Config, error) {
	inner, err := optim.FromName(c.Method.InnerOptimizer, c.Method.InnerLR, c.Method.InnerWD)
	if err != nil {
		return maml.Config{}, err
	}
	meta, err := optim.FromName(c.Method.MetaOptimizer, c.Method.MetaLR, c.Method.MetaWD)
	if err != nil {
		return maml.Config{}, err
	}
	mode, err := maml.ParseMode(c.Method.Mode)
	if err != nil {
		return maml.Config{}, err
	}
	return maml.Config{
		KShot:       c.Dataset.KShot,
		KQuery:      c.Dataset.KQuery,
		Inner:       inner,
		Meta:        meta,
		InnerSteps:  c.Method.InnerEpochs,
		OuterEpochs: c.Method.OuterEpochs,
		Mode:        mode,
		Shuffle:     c.Method.Shuffle,
		Seed:        c.Method.Seed,
	}, nil
}

// Export returns the train section as a flat key/value map.
func (t Train) Export() map[string]any {
	return map[string]any{
		"checkpoint": t.Checkpoint,
		"logging":    t.Logging,
		"save_dir":   t.SaveDir,
		"save_best":  t.SaveBest,
		"save_last":  t.SaveLast,
		"extension":  t.Extension,
	}
}

// WriteFile writes c as YAML to path.
func (c *Config) WriteFile(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
