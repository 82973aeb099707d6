// Package vision holds the image side of the segmentation pipeline:
// decoding uploads, building the model input tensor, and turning the
// model's probability map back into statistics and images.
package vision

import (
	"errors"
	"fmt"
	"math"
)

const (
	// ModelSize is the fixed spatial size of the model input and output.
	ModelSize = 128
	// Threshold splits tumor from background. A cell is tumor only when
	// its probability is strictly greater than Threshold.
	Threshold = 0.5
	// TotalPixels is the number of cells in a model-sized grid.
	TotalPixels = ModelSize * ModelSize
)

// ErrUnsupportedImageFormat is returned when uploaded bytes are not a
// decodable raster image.
var ErrUnsupportedImageFormat = errors.New("unsupported image format")

// Tensor is the normalized 128x128 single-channel model input. It is
// presented to the model as a batch of one sample with one channel.
type Tensor struct {
	values []float32
}

// NewTensor wraps a row-major grid of ModelSize*ModelSize values.
func NewTensor(values []float32) (Tensor, error) {
	if len(values) != TotalPixels {
		return Tensor{}, fmt.Errorf("tensor needs %d values, got %d", TotalPixels, len(values))
	}
	v := make([]float32, len(values))
	copy(v, values)
	return Tensor{values: v}, nil
}

// Shape returns the NHWC shape the model expects.
func (t Tensor) Shape() []int64 {
	return []int64{1, ModelSize, ModelSize, 1}
}

// At returns the value of the cell at column x, row y.
func (t Tensor) At(x, y int) float32 {
	return t.values[y*ModelSize+x]
}

// CopyTo copies the tensor values into dst and returns the count copied.
func (t Tensor) CopyTo(dst []float32) int {
	return copy(dst, t.values)
}

// Len is the number of values held.
func (t Tensor) Len() int {
	return len(t.values)
}

// ProbabilityMask is the raw model output: one tumor probability per cell.
type ProbabilityMask struct {
	values []float32
}

// NewProbabilityMask wraps a row-major grid of ModelSize*ModelSize values.
func NewProbabilityMask(values []float32) (ProbabilityMask, error) {
	if len(values) != TotalPixels {
		return ProbabilityMask{}, fmt.Errorf("mask needs %d values, got %d", TotalPixels, len(values))
	}
	v := make([]float32, len(values))
	copy(v, values)
	return ProbabilityMask{values: v}, nil
}

// At returns the probability of the cell at column x, row y.
func (p ProbabilityMask) At(x, y int) float32 {
	return p.values[y*ModelSize+x]
}

// BinaryMask marks each cell as tumor (true) or background (false).
type BinaryMask struct {
	cells []bool
}

// At reports whether the cell at column x, row y is tumor.
func (m BinaryMask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= ModelSize || y >= ModelSize {
		return false
	}
	return m.cells[y*ModelSize+x]
}

// Count returns the number of tumor cells.
func (m BinaryMask) Count() int {
	n := 0
	for _, c := range m.cells {
		if c {
			n++
		}
	}
	return n
}

// Stats summarizes a binary mask.
type Stats struct {
	TumorPixels     int
	TotalPixels     int
	TumorPercentage float64
}

// Percentage returns 100*part/total rounded half-to-even at two decimals.
func Percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(part) * 100 / float64(total)
	return math.RoundToEven(p*100) / 100
}
