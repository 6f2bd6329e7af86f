// Package main provides the fsmaml few-shot meta-training CLI.
//
// Usage:
//
//	fsmaml --config run.yaml --in_lr 0.01 --out_lr 0.001 --ks 5 --kq 5 --epochs 10
//
// Flags override the matching keys of the YAML config. Without --config the
// built-in defaults train on synthetic Gaussian blobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/checkpoint"
	"github.com/born-ml/fsmaml/internal/config"
	"github.com/born-ml/fsmaml/internal/dataset"
	"github.com/born-ml/fsmaml/internal/device"
	"github.com/born-ml/fsmaml/internal/episode"
	"github.com/born-ml/fsmaml/internal/maml"
	"github.com/born-ml/fsmaml/internal/nn"
)

const version = "v0.1.0"

// defaultTestPerClass is the held-out size of each synthetic class.
const defaultTestPerClass = 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fsmaml: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("fsmaml", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "Path to YAML config (default: built-in synthetic run)")
	inLR := fs.Float64("in_lr", 0, "Inner learning rate")
	outLR := fs.Float64("out_lr", 0, "Outer learning rate")
	kShot := fs.Int("ks", 0, "Number of samples in the support set")
	kQuery := fs.Int("kq", 0, "Number of samples in the query set")
	workers := fs.Int("wk", 0, "Number of data loading workers")
	epochs := fs.Int("epochs", 0, "Number of outer epochs")
	innerEpochs := fs.Int("inner_epochs", 0, "Number of inner adaptation steps")
	deviceIndex := fs.Int("dv", -1, "Device index")
	saveDir := fs.String("save_dir", "", "Existing directory for checkpoints and logs")
	verbose := fs.Bool("v", false, "Debug logging")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		_, err := fmt.Fprintf(stdout, "fsmaml %s\n", version)
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Read(*cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	overrides := config.Overrides{
		InnerLR:     float32(*inLR),
		MetaLR:      float32(*outLR),
		KShot:       *kShot,
		KQuery:      *kQuery,
		Workers:     *workers,
		OuterEpochs: *epochs,
		InnerEpochs: *innerEpochs,
		SaveDir:     *saveDir,
	}
	if *deviceIndex >= 0 {
		kind, _, _ := strings.Cut(cfg.Method.Device, ":")
		overrides.Device = fmt.Sprintf("%s:%d", kind, *deviceIndex)
	}
	cfg.ApplyOverrides(overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return train(ctx, cfg, stdout, logger)
}

func train(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	dev, err := device.Parse(cfg.Method.Device)
	if err != nil {
		return err
	}
	backend, err := device.Backend(dev, 0)
	if err != nil {
		return err
	}
	info := device.Detect()
	logger.Debug("device", "device", dev.String(), "cpu", info.Brand, "cores", info.LogicalCores,
		"avx2", info.AVX2, "fma", info.FMA, "kernel_workers", backend.Workers())
	engine := autodiff.New(backend)

	trainDS, testDS, err := loadData(cfg)
	if err != nil {
		return err
	}
	index, err := dataset.NewClassIndex(trainDS, cfg.Dataset.Classes...)
	if err != nil {
		return fmt.Errorf("train set: %w", err)
	}
	testDS, err = restrict(testDS, index.Classes())
	if err != nil {
		return fmt.Errorf("test set: %w", err)
	}

	mcfg, err := cfg.MAML()
	if err != nil {
		return err
	}
	outFeatures := index.Classes()[index.NumTasks()-1] + 1
	if mcfg.Mode == maml.ModeBinary {
		outFeatures = 1
		positive := index.Classes()[0]
		testDS = dataset.NewOneVsRest(testDS, positive)
		logger.Info("binary evaluation", "positive_class", positive)
	}

	x, _, err := trainDS.At(0)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(cfg.Method.Seed)) //nolint:gosec // reproducible initialization
	model := nn.NewMLP(x.NumElements(), cfg.Method.Hidden, outFeatures, engine, rng)
	crit, err := nn.NewCriterion(cfg.Method.Criterion, engine)
	if err != nil {
		return err
	}
	logger.Info("model", "parameters", nn.CountParameters(model), "inputs", x.NumElements(), "outputs", outFeatures)

	sampler, err := episode.NewSampler(index, episode.SamplerConfig{
		KShot:   cfg.Dataset.KShot,
		KQuery:  cfg.Dataset.KQuery,
		Shuffle: cfg.Dataset.Shuffle,
		Seed:    cfg.Method.Seed,
		Workers: cfg.Dataset.Workers,
	})
	if err != nil {
		return err
	}
	testLoader := dataset.NewLoader(testDS, dataset.LoaderConfig{
		BatchSize: 1,
		Workers:   cfg.Dataset.Workers,
		PinMemory: cfg.Dataset.PinMemory,
		Logger:    logger,
	})

	opts := []maml.Option{maml.WithLogger(logger), maml.WithOutput(stdout)}
	if cfg.Train.Checkpoint || cfg.Train.Logging {
		saver, err := newSaver(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = saver.Close() }()
		opts = append(opts, maml.WithCheckpointer(saver))
	}

	trainer, err := maml.NewTrainer(model, crit, engine, mcfg, opts...)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(stdout, "Method: %s - Dataset: %s - ks: %d - kq: %d\n",
		cfg.Method.Name, cfg.Dataset.Name, cfg.Dataset.KShot, cfg.Dataset.KQuery); err != nil {
		return err
	}
	_, err = trainer.Fit(ctx, sampler, testLoader)
	return err
}

func newSaver(cfg *config.Config, logger *slog.Logger) (*checkpoint.Saver, error) {
	layout, err := checkpoint.Setup(cfg.Train.SaveDir, cfg.Method.Name, cfg.Dataset.Name,
		cfg.Dataset.KShot, cfg.Dataset.KQuery)
	if err != nil {
		return nil, err
	}
	if err := cfg.WriteFile(layout.Path("config.yaml")); err != nil {
		return nil, err
	}
	saver, err := checkpoint.NewSaver(layout, checkpoint.SaverConfig{
		Checkpoint: cfg.Train.Checkpoint,
		Logging:    cfg.Train.Logging,
		SaveBest:   cfg.Train.SaveBest,
		SaveLast:   cfg.Train.SaveLast,
		Extension:  cfg.Train.Extension,
		Method:     cfg.Method.Name,
		Dataset:    cfg.Dataset.Name,
		KShot:      cfg.Dataset.KShot,
		KQuery:     cfg.Dataset.KQuery,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("experiment", "dir", layout.Dir, "run_id", saver.RunID().String())
	return saver, nil
}

func loadData(cfg *config.Config) (dataset.Dataset, dataset.Dataset, error) {
	switch cfg.Dataset.Name {
	case config.DatasetMNIST:
		tr, err := dataset.LoadMNIST(cfg.Dataset.Root, true)
		if err != nil {
			return nil, nil, err
		}
		te, err := dataset.LoadMNIST(cfg.Dataset.Root, false)
		if err != nil {
			return nil, nil, err
		}
		return tr, te, nil
	default:
		s := cfg.Dataset.Synthetic
		tr, err := dataset.NewSynthetic(dataset.SyntheticConfig{
			Classes: s.Classes, PerClass: s.PerClass, Dim: s.Dim, Spread: s.Spread, Seed: cfg.Method.Seed,
		})
		if err != nil {
			return nil, nil, err
		}
		perClass := s.TestPer
		if perClass == 0 {
			perClass = defaultTestPerClass
		}
		te, err := dataset.NewSynthetic(dataset.SyntheticConfig{
			Classes: s.Classes, PerClass: perClass, Dim: s.Dim, Spread: s.Spread, Seed: cfg.Method.Seed + 1,
		})
		if err != nil {
			return nil, nil, err
		}
		return tr, te, nil
	}
}

// restrict keeps the examples of classes, in dataset order.
func restrict(ds dataset.Dataset, classes []int) (dataset.Dataset, error) {
	index, err := dataset.NewClassIndex(ds, classes...)
	if err != nil {
		return nil, err
	}
	if index.NumTasks() != len(classes) {
		return nil, fmt.Errorf("%w: has classes %v, want %v", dataset.ErrEmptyDataset, index.Classes(), classes)
	}
	var keep []int
	for _, c := range index.Classes() {
		keep = append(keep, index.Indices(c)...)
	}
	if len(keep) == ds.Len() {
		return ds, nil
	}
	sort.Ints(keep)
	return dataset.NewSubset(ds, keep), nil
}
