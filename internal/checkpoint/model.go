package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/born-ml/fsmaml/internal/nn"
)

// SaveModel writes the parameters of model to path.
//
// The file is written to a temporary sibling and renamed into place, so a
// reader never sees a partial checkpoint.
func SaveModel(path string, model nn.Module, header Header) error {
	params := model.Parameters()
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = nn.StateKey(i, p)
	}
	if header.ModelType == "" {
		header.ModelType = modelType(model)
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	if err := Encode(w, header, names, nn.StateDict(model)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint at path.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path) //nolint:gosec // G304: checkpoint path is user supplied
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	ckpt, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ckpt, nil
}

// LoadModel reads path and copies its tensors into model.
func LoadModel(path string, model nn.Module) (*Header, error) {
	ckpt, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := nn.LoadStateDict(model, ckpt.Tensors); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTensorMismatch, err)
	}
	return &ckpt.Header, nil
}

func modelType(m nn.Module) string {
	t := reflect.TypeOf(m)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
