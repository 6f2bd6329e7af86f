package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/born-ml/fsmaml/internal/tensor"
)

// Checkpoint is a decoded checkpoint file.
type Checkpoint struct {
	Header  Header
	Tensors map[string]*tensor.Tensor
}

// Encode writes tensors, in the order of names, with header to w.
//
// header.Tensors and header.FormatVersion are filled in by Encode.
func Encode(w io.Writer, header Header, names []string, tensors map[string]*tensor.Tensor) error {
	header.FormatVersion = FormatVersion
	header.Tensors = make([]TensorMeta, 0, len(names))

	var data bytes.Buffer
	var offset int64
	for _, name := range names {
		t, ok := tensors[name]
		if !ok {
			return fmt.Errorf("%w: no tensor named %q", ErrTensorMismatch, name)
		}
		size := int64(t.NumElements() * 4)
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  DTypeFloat32,
			Shape:  []int(t.Shape().Clone()),
			Offset: offset,
			Size:   size,
		})
		offset += size

		buf := make([]byte, size)
		for i, v := range t.Data() {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		data.Write(buf)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	flags := uint32(0)
	if header.Training != nil {
		flags |= FlagHasTraining
	}
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(data.Len()))
	checksum := sha256.Sum256(data.Bytes())
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	if _, err := w.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if pad := padding(len(headerJSON)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}
	if _, err := w.Write(data.Bytes()); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

// Decode reads a checkpoint from r and verifies its checksum.
func Decode(r io.Reader) (*Checkpoint, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, v, FormatVersion)
	}

	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	if headerSize > maxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	var stored [ChecksumSize]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	if _, err := io.CopyN(io.Discard, r, int64(padding(int(headerSize)))); err != nil {
		return nil, fmt.Errorf("failed to skip padding: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(r, int64(dataSize))) //nolint:gosec // dataSize bounded by the file
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if uint64(len(data)) != dataSize {
		return nil, fmt.Errorf("%w: data section has %d bytes, header says %d", ErrTensorMismatch, len(data), dataSize)
	}
	if sha256.Sum256(data) != stored {
		return nil, ErrChecksumMismatch
	}

	tensors := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		t, err := decodeTensor(meta, data)
		if err != nil {
			return nil, err
		}
		tensors[meta.Name] = t
	}
	return &Checkpoint{Header: header, Tensors: tensors}, nil
}

func decodeTensor(meta TensorMeta, data []byte) (*tensor.Tensor, error) {
	if meta.DType != DTypeFloat32 {
		return nil, fmt.Errorf("%w: %q has dtype %q", ErrTensorMismatch, meta.Name, meta.DType)
	}
	shape := tensor.Shape(meta.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrTensorMismatch, meta.Name, err)
	}
	n := shape.NumElements()
	if meta.Size != int64(n*4) || meta.Offset < 0 || meta.Offset+meta.Size > int64(len(data)) {
		return nil, fmt.Errorf("%w: %q: offset %d size %d outside %d-byte data section",
			ErrTensorMismatch, meta.Name, meta.Offset, meta.Size, len(data))
	}

	values := make([]float32, n)
	raw := data[meta.Offset : meta.Offset+meta.Size]
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return tensor.FromSlice(values, shape)
}

// padding returns the zero bytes between the JSON header and the
// 64-byte-aligned tensor data.
func padding(headerSize int) int {
	pos := FixedHeaderSize + headerSize
	return (HeaderAlignment - pos%HeaderAlignment) % HeaderAlignment
}
