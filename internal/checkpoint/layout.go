package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSaveDir is returned when the configured save directory does not exist.
var ErrSaveDir = errors.New("save directory does not exist")

// BenchmarkDir is the directory created under the save directory.
const BenchmarkDir = "benchmark"

// Layout is an experiment directory
// <save_dir>/benchmark/<method>/<dataset>/ks<k>_kq<q>/ext<N>.
type Layout struct {
	Root    string // <save_dir>/benchmark
	Setting string // .../ks<k>_kq<q>
	Dir     string // .../ext<N>
	Index   int    // N
}

// Setup creates the experiment directory.
//
// N is the number of entries already in the setting directory, so each run
// gets a fresh extN folder.
func Setup(saveDir, method, dataset string, kShot, kQuery int) (*Layout, error) {
	if saveDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		saveDir = wd
	}
	if info, err := os.Stat(saveDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSaveDir, saveDir)
	}

	root := filepath.Join(saveDir, BenchmarkDir)
	setting := filepath.Join(root, method, dataset, fmt.Sprintf("ks%d_kq%d", kShot, kQuery))
	if err := os.MkdirAll(setting, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", setting, err)
	}

	entries, err := os.ReadDir(setting)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", setting, err)
	}
	index := len(entries)
	dir := filepath.Join(setting, fmt.Sprintf("ext%d", index))
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	return &Layout{Root: root, Setting: setting, Dir: dir, Index: index}, nil
}

// Path returns name inside the experiment directory.
func (l *Layout) Path(name string) string {
	return filepath.Join(l.Dir, name)
}
