// Package classifier turns uploaded MRI images into tumor predictions.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/mri-classifier/internal/labels"
	"github.com/Brownie44l1/mri-classifier/internal/preprocess"
)

var (
	// ErrShape is returned when the model output width differs from the
	// label set.
	ErrShape     = errors.New("classifier: model output does not match label set")
	ErrInference = errors.New("classifier: inference failed")
	// ErrTensorSize is returned by ClassifyTensor for a tensor that does not
	// match the preprocessing geometry.
	ErrTensorSize = errors.New("classifier: tensor size mismatch")
)

// Model is a loaded classifier: a batch-of-one input tensor in, one
// probability per label out.
type Model interface {
	Predict(input []float32) ([]float32, error)
}

// Prediction is the classification of one image.
type Prediction struct {
	Label labels.Label
	// Confidence is the winning probability as a percentage.
	Confidence   float64
	Distribution [labels.Count]float32
	// Image is the resized image the model saw.
	Image  image.Image
	Format string
}

// Probability returns the model's probability for l.
func (p *Prediction) Probability(l labels.Label) float32 {
	if !l.Valid() {
		return 0
	}
	return p.Distribution[l.Index()]
}

// Upload is one user-submitted file.
type Upload struct {
	Name string
	Data []byte
}

// Outcome is the result of classifying one Upload in a batch. Exactly one
// of Prediction and Err is set.
type Outcome struct {
	Name       string
	Prediction *Prediction
	Err        error
	Duration   time.Duration
}

// Service classifies images with a fixed model and preprocessing geometry.
// It holds no per-request state and is safe for concurrent use when the
// Model is.
type Service struct {
	model Model
	pre   *preprocess.Preprocessor
	log   logrus.FieldLogger
}

// New builds a Service. A nil logger discards output.
func New(m Model, pre *preprocess.Preprocessor, log logrus.FieldLogger) (*Service, error) {
	if m == nil {
		return nil, errors.New("classifier: model is required")
	}
	if pre == nil {
		return nil, errors.New("classifier: preprocessor is required")
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Service{model: m, pre: pre, log: log}, nil
}

// Classify decodes data, resizes and normalises it, runs the model and picks
// the most probable label. Ties go to the label listed first.
func (s *Service) Classify(data []byte) (*Prediction, error) {
	prepared, err := s.pre.Prepare(data)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"format": prepared.Format,
		"size":   s.pre.Size,
		"layout": s.pre.Layout.String(),
		"values": len(prepared.Tensor),
	}).Debug("Preprocessed image")

	p, err := s.predict(prepared.Tensor)
	if err != nil {
		return nil, err
	}
	p.Image = prepared.Image
	p.Format = prepared.Format
	return p, nil
}

// ClassifyTensor runs the model on an already preprocessed tensor, laid
// out as the model expects.
func (s *Service) ClassifyTensor(input []float32) (*Prediction, error) {
	if want := s.pre.TensorLen(); len(input) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrTensorSize, want, len(input))
	}
	return s.predict(input)
}

// TensorLen is the number of values ClassifyTensor expects.
func (s *Service) TensorLen() int {
	return s.pre.TensorLen()
}

func (s *Service) predict(input []float32) (*Prediction, error) {
	out, err := s.model.Predict(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if len(out) != labels.Count {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrShape, len(out), labels.Count)
	}
	for i, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: output %d is %v", ErrInference, i, v)
		}
	}

	idx := Argmax(out)
	label, err := labels.FromIndex(idx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShape, err)
	}

	p := &Prediction{
		Label:      label,
		Confidence: float64(out[idx]) * 100,
	}
	copy(p.Distribution[:], out)
	return p, nil
}

// ClassifyBatch classifies uploads one after another. A failing upload is
// reported in its Outcome and does not stop the rest of the batch; once ctx
// is done the remaining uploads are marked with ctx.Err() without running.
func (s *Service) ClassifyBatch(ctx context.Context, uploads []Upload) []Outcome {
	outcomes := make([]Outcome, 0, len(uploads))
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Name: u.Name, Err: err})
			continue
		}

		start := time.Now()
		p, err := s.Classify(u.Data)
		o := Outcome{Name: u.Name, Prediction: p, Err: err, Duration: time.Since(start)}

		entry := s.log.WithFields(logrus.Fields{
			"file":        u.Name,
			"bytes":       len(u.Data),
			"duration_ms": o.Duration.Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Warn("Image classification failed")
		} else {
			entry.WithFields(logrus.Fields{
				"label":      p.Label.String(),
				"confidence": p.Confidence,
			}).Info("Image classified")
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// Argmax returns the index of the largest value, preferring the first
// occurrence on ties. It returns -1 for an empty slice.
// NaN never compares greater, so a NaN at index 0 wins; callers that can see
// NaN must reject it first.
func Argmax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best
}
