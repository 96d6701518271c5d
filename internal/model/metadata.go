package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Brownie44l1/mri-classifier/internal/labels"
	"github.com/Brownie44l1/mri-classifier/internal/preprocess"
)

var (
	ErrModelNotFound = errors.New("model: model file not found")
	// ErrOutputShape means the model's output width differs from the label set.
	ErrOutputShape = errors.New("model: output does not match label set")
	ErrInputSize   = errors.New("model: input size mismatch")
	ErrClosed      = errors.New("model: session closed")
)

// Metadata describes the tensors of a loaded model. It can be read from an
// optional JSON sidecar file or discovered from the model itself.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes,omitempty"`
	ImageSize   int      `json:"image_size"`
	Layout      string   `json:"layout"`
}

// LoadMetadata reads a metadata sidecar file.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &m, nil
}

// TensorLayout parses the Layout field.
func (m *Metadata) TensorLayout() (preprocess.Layout, error) {
	return preprocess.ParseLayout(m.Layout)
}

// InputLen is the number of float32 values in one input tensor.
func (m *Metadata) InputLen() int {
	return volume(m.InputShape)
}

// OutputLen is the number of float32 values in one output tensor.
func (m *Metadata) OutputLen() int {
	return volume(m.OutputShape)
}

// complete fills unset fields from the configured defaults and pins dynamic
// dimensions. Shapes discovered from a model may carry -1 for the batch or
// spatial axes.
func (m *Metadata) complete(size int, layout preprocess.Layout) error {
	if m.InputName == "" || m.OutputName == "" {
		return errors.New("model: input and output tensor names are required")
	}
	if m.Layout == "" {
		m.Layout = inferLayout(m.InputShape, layout).String()
	}
	l, err := m.TensorLayout()
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if m.ImageSize <= 0 {
		m.ImageSize = inferSize(m.InputShape, l, size)
	}

	m.InputShape, err = resolveInputShape(m.InputShape, m.ImageSize, l)
	if err != nil {
		return err
	}
	m.OutputShape = resolveOutputShape(m.OutputShape)
	return nil
}

// Validate checks the invariants the classifier relies on.
func (m *Metadata) Validate() error {
	if m.OutputLen() != labels.Count {
		return fmt.Errorf("%w: output shape %v has %d values, want %d",
			ErrOutputShape, m.OutputShape, m.OutputLen(), labels.Count)
	}
	if len(m.Classes) > 0 {
		if len(m.Classes) != labels.Count {
			return fmt.Errorf("%w: metadata lists %d classes, want %d",
				ErrOutputShape, len(m.Classes), labels.Count)
		}
		for i, name := range m.Classes {
			l, err := labels.Parse(name)
			if err != nil || l.Index() != i {
				return fmt.Errorf("%w: class %d is %q, want %q",
					ErrOutputShape, i, name, labels.Label(i))
			}
		}
	}
	want := preprocess.Channels * m.ImageSize * m.ImageSize
	if m.InputLen() != want {
		return fmt.Errorf("%w: input shape %v has %d values, want %d",
			ErrInputSize, m.InputShape, m.InputLen(), want)
	}
	return nil
}

func volume(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

func inferLayout(shape []int64, fallback preprocess.Layout) preprocess.Layout {
	if len(shape) != 4 {
		return fallback
	}
	switch {
	case shape[3] == preprocess.Channels && shape[1] != preprocess.Channels:
		return preprocess.NHWC
	case shape[1] == preprocess.Channels && shape[3] != preprocess.Channels:
		return preprocess.NCHW
	default:
		return fallback
	}
}

func inferSize(shape []int64, layout preprocess.Layout, fallback int) int {
	if len(shape) != 4 {
		return fallback
	}
	h := shape[1]
	if layout == preprocess.NCHW {
		h = shape[2]
	}
	if h > 0 {
		return int(h)
	}
	return fallback
}

func resolveInputShape(shape []int64, size int, layout preprocess.Layout) ([]int64, error) {
	want := []int64{1, int64(size), int64(size), preprocess.Channels}
	if layout == preprocess.NCHW {
		want = []int64{1, preprocess.Channels, int64(size), int64(size)}
	}
	if len(shape) == 0 {
		return want, nil
	}
	if len(shape) != 4 {
		return nil, fmt.Errorf("%w: expected 4D input, got %v", ErrInputSize, shape)
	}

	out := make([]int64, 4)
	for i, d := range shape {
		switch {
		case i == 0 && d > 1:
			return nil, fmt.Errorf("%w: batch dimension %d, want 1", ErrInputSize, d)
		case d <= 0:
			out[i] = want[i]
		case i > 0 && d != want[i]:
			return nil, fmt.Errorf("%w: input shape %v, want %v", ErrInputSize, shape, want)
		default:
			out[i] = d
		}
	}
	out[0] = 1
	return out, nil
}

func resolveOutputShape(shape []int64) []int64 {
	if len(shape) == 0 {
		return []int64{1, labels.Count}
	}
	out := make([]int64, len(shape))
	for i, d := range shape {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	out[0] = 1
	return out
}
