// Package checkpoint persists meta models and lays out experiment folders.
//
// File format (all integers little-endian):
//
//	0x00-0x03  magic "FSMK"
//	0x04-0x07  format version
//	0x08-0x0B  flags
//	0x0C-0x0F  reserved
//	0x10-0x17  JSON header size
//	0x18-0x1F  tensor data size
//	0x20-0x3F  SHA-256 of the tensor data
//	0x40-      JSON header, zero padding to a 64-byte boundary, tensor data
//
// Tensor data is raw float32 in header order.
package checkpoint

import (
	"errors"
	"time"
)

// Format constants.
const (
	MagicBytes      = "FSMK"
	FormatVersion   = 1
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	HeaderAlignment = 64   // Tensor data starts on a 64-byte boundary
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
	ChecksumSize    = 32

	maxHeaderSize = 64 << 20
)

// DTypeFloat32 is the only tensor dtype written.
const DTypeFloat32 = "float32"

// Flags.
const (
	FlagHasTraining uint32 = 1 << 0 // Training metadata present
	FlagHasMetadata uint32 = 1 << 1 // Custom metadata present
)

// Errors.
var (
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrTensorMismatch     = errors.New("tensor does not match model")
)

// Header is the JSON header of a checkpoint.
type Header struct {
	FormatVersion int               `json:"format_version"`
	RunID         string            `json:"run_id"`
	ModelType     string            `json:"model_type"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Training      *TrainingMeta     `json:"training,omitempty"`
}

// TrainingMeta records the training state at save time.
type TrainingMeta struct {
	Method       string  `json:"method"`
	Dataset      string  `json:"dataset"`
	KShot        int     `json:"k_shot"`
	KQuery       int     `json:"k_query"`
	Epoch        int     `json:"epoch"`
	MetaLoss     float64 `json:"meta_loss"`
	MeanMetaLoss float64 `json:"mean_meta_loss"`
	TestLoss     float64 `json:"test_loss"`
	TestAcc      float64 `json:"test_acc"`
}

// TensorMeta describes one tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`   // State dict key, e.g. "0.weight"
	DType  string `json:"dtype"`  // Always "float32"
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Byte offset from the start of tensor data
	Size   int64  `json:"size"`   // Size in bytes
}
