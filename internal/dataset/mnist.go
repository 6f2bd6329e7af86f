package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/fsmaml/internal/tensor"
)

// IDX magic numbers.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// MNIST normalization constants.
const (
	MNISTMean = 0.1307
	MNISTStd  = 0.3081
)

// MNIST file names (optionally with a .gz suffix).
const (
	mnistTrainImages = "train-images-idx3-ubyte"
	mnistTrainLabels = "train-labels-idx1-ubyte"
	mnistTestImages  = "t10k-images-idx3-ubyte"
	mnistTestLabels  = "t10k-labels-idx1-ubyte"
)

// ReadIDXImages reads an IDX image stream.
//
// IDX format for images:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes (28)
//	number of cols: 4 bytes (28)
//	pixel data: unsigned bytes (0-255)
func ReadIDXImages(r io.Reader) (images [][]byte, rows, cols int, err error) {
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("%w: image magic %d, want %d", ErrInvalidFormat, magic, idxImagesMagic)
	}

	var dims [3]uint32
	if err := binary.Read(r, binary.BigEndian, &dims); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read dimensions: %w", err)
	}
	numImages, numRows, numCols := dims[0], dims[1], dims[2]

	imageSize := int(numRows * numCols)
	images = make([][]byte, numImages)
	for i := range images {
		images[i] = make([]byte, imageSize)
		if _, err := io.ReadFull(r, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read image %d: %w", i, err)
		}
	}
	return images, int(numRows), int(numCols), nil
}

// ReadIDXLabels reads an IDX label stream.
//
// IDX format for labels:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func ReadIDXLabels(r io.Reader) ([]byte, error) {
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != idxLabelsMagic {
		return nil, fmt.Errorf("%w: label magic %d, want %d", ErrInvalidFormat, magic, idxLabelsMagic)
	}

	var numLabels uint32
	if err := binary.Read(r, binary.BigEndian, &numLabels); err != nil {
		return nil, fmt.Errorf("failed to read label count: %w", err)
	}

	labels := make([]byte, numLabels)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}

// NewIDX builds a normalized in-memory dataset from IDX image and label
// streams. Each input has shape [1, rows, cols] and holds
// (pixel/255 - MNISTMean) / MNISTStd.
func NewIDX(images, labels io.Reader) (*InMemory, error) {
	imgs, rows, cols, err := ReadIDXImages(images)
	if err != nil {
		return nil, err
	}
	lbls, err := ReadIDXLabels(labels)
	if err != nil {
		return nil, err
	}
	if len(imgs) != len(lbls) {
		return nil, fmt.Errorf("%w: %d images, %d labels", ErrLengthMismatch, len(imgs), len(lbls))
	}

	shape := tensor.Shape{1, rows, cols}
	inputs := make([]*tensor.Tensor, len(imgs))
	classes := make([]int, len(lbls))
	for i, img := range imgs {
		data := make([]float32, len(img))
		for j, px := range img {
			data[j] = (float32(px)/255 - MNISTMean) / MNISTStd
		}
		t, err := tensor.FromSlice(data, shape)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		inputs[i] = t
		classes[i] = int(lbls[i])
	}
	return NewInMemory(inputs, classes)
}

// LoadMNIST loads the train or test split from root.
//
// Both raw and gzip-compressed IDX files are accepted.
func LoadMNIST(root string, train bool) (*InMemory, error) {
	imagesName, labelsName := mnistTestImages, mnistTestLabels
	if train {
		imagesName, labelsName = mnistTrainImages, mnistTrainLabels
	}

	images, closeImages, err := openIDX(root, imagesName)
	if err != nil {
		return nil, err
	}
	defer closeImages()

	labels, closeLabels, err := openIDX(root, labelsName)
	if err != nil {
		return nil, err
	}
	defer closeLabels()

	ds, err := NewIDX(images, labels)
	if err != nil {
		return nil, fmt.Errorf("loading MNIST from %s: %w", root, err)
	}
	return ds, nil
}

// openIDX opens root/name, falling back to root/name.gz.
func openIDX(root, name string) (io.Reader, func(), error) {
	path := filepath.Join(root, name)
	if _, err := os.Stat(path); err != nil {
		path += ".gz"
	}

	f, err := os.Open(path) //nolint:gosec // path is built from the configured dataset root
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	if !strings.HasSuffix(path, ".gz") {
		return bufio.NewReader(f), func() { _ = f.Close() }, nil
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to open gzip %s: %w", path, err)
	}
	return gz, func() {
		_ = gz.Close()
		_ = f.Close()
	}, nil
}
