package checkpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/born-ml/fsmaml/internal/maml"
	"github.com/born-ml/fsmaml/internal/nn"
)

// Log and checkpoint file names inside the experiment directory.
const (
	BestName = "best"
	LastName = "last"
	LogName  = "train.log"
)

// SaverConfig configures a Saver.
type SaverConfig struct {
	Checkpoint bool   // Write model files at all
	Logging    bool   // Append summary lines to train.log
	SaveBest   bool   // Keep the checkpoint with the highest test accuracy
	SaveLast   bool   // Keep the checkpoint of the latest epoch
	Extension  string // Checkpoint file extension (default: "ckpt")

	Method  string
	Dataset string
	KShot   int
	KQuery  int

	Logger *slog.Logger
}

// Saver writes per-epoch checkpoints and the training log into a Layout.
// It implements maml.Checkpointer.
type Saver struct {
	layout  *Layout
	cfg     SaverConfig
	runID   uuid.UUID
	bestAcc float64
	saved   bool
	log     *os.File
}

// NewSaver creates a saver with a fresh run id.
func NewSaver(layout *Layout, cfg SaverConfig) (*Saver, error) {
	if cfg.Extension == "" {
		cfg.Extension = "ckpt"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Saver{layout: layout, cfg: cfg, runID: uuid.New()}
	if cfg.Logging {
		f, err := os.OpenFile(layout.Path(LogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open training log: %w", err)
		}
		s.log = f
	}
	return s, nil
}

// RunID returns the id stamped into every checkpoint of this run.
func (s *Saver) RunID() uuid.UUID {
	return s.runID
}

// BestPath returns the path of the best checkpoint.
func (s *Saver) BestPath() string {
	return s.layout.Path(BestName + "." + s.cfg.Extension)
}

// LastPath returns the path of the last checkpoint.
func (s *Saver) LastPath() string {
	return s.layout.Path(LastName + "." + s.cfg.Extension)
}

// Checkpoint logs the summary and saves best/last checkpoints as configured.
func (s *Saver) Checkpoint(ctx context.Context, model nn.Module, summary maml.EpochSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.log != nil {
		if _, err := fmt.Fprintf(s.log, "Epoch: %d - MetaLoss: %v - Test Loss: %v - Test Acc: %v%%\n",
			summary.Epoch, summary.MetaLoss, summary.TestLoss, summary.TestAcc); err != nil {
			return fmt.Errorf("failed to write training log: %w", err)
		}
	}
	if !s.cfg.Checkpoint {
		return nil
	}

	header := s.header(summary)
	if s.cfg.SaveBest && (!s.saved || summary.TestAcc > s.bestAcc) {
		if err := SaveModel(s.BestPath(), model, header); err != nil {
			return err
		}
		s.bestAcc = summary.TestAcc
		s.saved = true
		s.cfg.Logger.Info("saved best checkpoint", "path", s.BestPath(), "epoch", summary.Epoch, "test_acc", summary.TestAcc)
	}
	if s.cfg.SaveLast {
		if err := SaveModel(s.LastPath(), model, header); err != nil {
			return err
		}
		s.cfg.Logger.Debug("saved last checkpoint", "path", s.LastPath(), "epoch", summary.Epoch)
	}
	return nil
}

// Close closes the training log.
func (s *Saver) Close() error {
	if s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	return err
}

func (s *Saver) header(summary maml.EpochSummary) Header {
	return Header{
		RunID: s.runID.String(),
		Training: &TrainingMeta{
			Method:       s.cfg.Method,
			Dataset:      s.cfg.Dataset,
			KShot:        s.cfg.KShot,
			KQuery:       s.cfg.KQuery,
			Epoch:        summary.Epoch,
			MetaLoss:     summary.MetaLoss,
			MeanMetaLoss: summary.MeanMetaLoss,
			TestLoss:     summary.TestLoss,
			TestAcc:      summary.TestAcc,
		},
	}
}
