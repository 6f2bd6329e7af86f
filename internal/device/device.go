// Package device resolves the explicit compute device a trainer runs on.
//
// Only the CPU is supported. The device string follows the "kind[:index]"
// form ("cpu", "cpu:0"); GPU kinds parse but are rejected with
// ErrUnsupportedDevice.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/parallel"
)

// ErrUnsupportedDevice is returned for devices other than the CPU.
var ErrUnsupportedDevice = errors.New("unsupported device")

// ErrInvalidDevice is returned for malformed device strings.
var ErrInvalidDevice = errors.New("invalid device string")

// Kind identifies a device family.
type Kind string

// Device kinds.
const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
	GPU  Kind = "gpu"
)

// Device is a parsed device selection.
type Device struct {
	Kind  Kind
	Index int
}

// String returns "kind:index".
func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// Parse parses "cpu", "cpu:0", "cuda:1" and similar. An empty string is "cpu:0".
func Parse(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Device{Kind: CPU}, nil
	}

	kind, idx, hasIdx := strings.Cut(s, ":")
	d := Device{Kind: Kind(kind)}
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("%w: %q", ErrInvalidDevice, s)
		}
		d.Index = n
	}

	switch d.Kind {
	case CPU:
		return d, nil
	case CUDA, GPU:
		return d, fmt.Errorf("%w: %s (only cpu is available)", ErrUnsupportedDevice, d)
	default:
		return Device{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDevice, kind)
	}
}

// Info describes the host CPU.
type Info struct {
	Brand        string
	LogicalCores int
	AVX2         bool
	FMA          bool
}

// Detect reads the host CPU features.
func Detect() Info {
	cores := cpuid.CPU.LogicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return Info{
		Brand:        cpuid.CPU.BrandName,
		LogicalCores: cores,
		AVX2:         cpuid.CPU.Supports(cpuid.AVX2),
		FMA:          cpuid.CPU.Supports(cpuid.FMA3),
	}
}

// Backend builds the CPU compute backend for d.
//
// workers <= 0 uses one kernel worker per logical core.
func Backend(d Device, workers int) (*cpu.Backend, error) {
	if d.Kind != CPU {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDevice, d)
	}
	if workers <= 0 {
		workers = Detect().LogicalCores
	}
	if workers == 1 {
		return cpu.NewWithConfig(parallel.Sequential()), nil
	}
	return cpu.NewWithConfig(parallel.WithWorkers(workers)), nil
}
