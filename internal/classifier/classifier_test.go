package classifier

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"testing"

	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/mri-classifier/internal/labels"
	"github.com/Brownie44l1/mri-classifier/internal/preprocess"
)

// fakeModel returns a fixed distribution, or a distribution derived from the
// mean input value when fn is set.
type fakeModel struct {
	mu     sync.Mutex
	out    []float32
	fn     func(input []float32) []float32
	err    error
	calls  int
	inputs [][]float32
}

func (f *fakeModel) Predict(input []float32) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.fn != nil {
		return f.fn(input), nil
	}
	return append([]float32(nil), f.out...), nil
}

// brightnessModel favours no_tumor for dark images and glioma for bright ones.
func brightnessModel(input []float32) []float32 {
	var sum float32
	for _, v := range input {
		sum += v
	}
	mean := sum / float32(len(input))
	return []float32{mean * 0.9, 0.05, (1 - mean) * 0.9, 0.05}
}

func newService(t *testing.T, m Model) *Service {
	t.Helper()
	pre, err := preprocess.New(128, preprocess.NHWC, resize.NearestNeighbor)
	require.NoError(t, err)
	svc, err := New(m, pre, nil)
	require.NoError(t, err)
	return svc
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewRequiresDependencies(t *testing.T) {
	pre, err := preprocess.New(128, preprocess.NHWC, resize.NearestNeighbor)
	require.NoError(t, err)

	_, err = New(nil, pre, nil)
	assert.Error(t, err)
	_, err = New(&fakeModel{}, nil, nil)
	assert.Error(t, err)
}

func TestClassifyPicksArgmax(t *testing.T) {
	m := &fakeModel{out: []float32{0.1, 0.2, 0.6, 0.1}}
	svc := newService(t, m)

	p, err := svc.Classify(solidPNG(t, 64, 64, color.Gray{Y: 40}))
	require.NoError(t, err)

	assert.Equal(t, labels.NoTumor, p.Label)
	assert.InDelta(t, 60.0, p.Confidence, 1e-4)
	assert.Equal(t, [labels.Count]float32{0.1, 0.2, 0.6, 0.1}, p.Distribution)
	assert.Equal(t, float32(0.2), p.Probability(labels.Meningioma))
	assert.Equal(t, float32(0), p.Probability(labels.Label(11)))
	assert.Equal(t, "png", p.Format)
	assert.Equal(t, 128, p.Image.Bounds().Dx())

	require.Len(t, m.inputs, 1)
	assert.Len(t, m.inputs[0], 3*128*128)
}

func TestClassifyOutputInvariants(t *testing.T) {
	svc := newService(t, &fakeModel{fn: brightnessModel})

	for _, y := range []uint8{0, 64, 128, 200, 255} {
		p, err := svc.Classify(solidPNG(t, 128, 128, color.Gray{Y: y}))
		require.NoError(t, err)

		assert.True(t, p.Label.Valid())
		assert.GreaterOrEqual(t, p.Confidence, 0.0)
		assert.LessOrEqual(t, p.Confidence, 100.0)
		for _, v := range p.Distribution {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
		assert.Equal(t, Argmax(p.Distribution[:]), p.Label.Index())
	}
}

func TestClassifySolidGray(t *testing.T) {
	svc := newService(t, &fakeModel{fn: brightnessModel})

	p, err := svc.Classify(solidPNG(t, 128, 128, color.Gray{Y: 128}))
	require.NoError(t, err)

	assert.True(t, p.Label.Valid())
	assert.Len(t, p.Distribution, labels.Count)
	assert.InDelta(t, float64(p.Probability(p.Label))*100, p.Confidence, 1e-4)
}

func TestClassifyIsDeterministic(t *testing.T) {
	svc := newService(t, &fakeModel{fn: brightnessModel})
	data := solidPNG(t, 90, 140, color.RGBA{R: 30, G: 90, B: 150, A: 255})

	first, err := svc.Classify(data)
	require.NoError(t, err)
	second, err := svc.Classify(data)
	require.NoError(t, err)

	assert.Equal(t, first.Label, second.Label)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Distribution, second.Distribution)
}

func TestClassifyTieGoesToFirstLabel(t *testing.T) {
	svc := newService(t, &fakeModel{out: []float32{0.1, 0.4, 0.1, 0.4}})

	p, err := svc.Classify(solidPNG(t, 8, 8, color.White))
	require.NoError(t, err)
	assert.Equal(t, labels.Meningioma, p.Label)
}

func TestClassifyErrors(t *testing.T) {
	t.Run("undecodable bytes", func(t *testing.T) {
		m := &fakeModel{out: []float32{1, 0, 0, 0}}
		svc := newService(t, m)

		_, err := svc.Classify([]byte("not an image"))
		assert.ErrorIs(t, err, preprocess.ErrDecode)
		assert.Zero(t, m.calls)
	})

	t.Run("wrong output width", func(t *testing.T) {
		svc := newService(t, &fakeModel{out: []float32{0.5, 0.5}})

		_, err := svc.Classify(solidPNG(t, 8, 8, color.White))
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("model failure", func(t *testing.T) {
		cause := errors.New("session closed")
		svc := newService(t, &fakeModel{err: cause})

		_, err := svc.Classify(solidPNG(t, 8, 8, color.White))
		assert.ErrorIs(t, err, ErrInference)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("non-finite output", func(t *testing.T) {
		nan := float32(math.NaN())
		for _, out := range [][]float32{
			{nan, 0.1, 0.2, 0.3},
			{0.1, 0.2, nan, 0.3},
			{0.1, float32(math.Inf(1)), 0.2, 0.3},
		} {
			svc := newService(t, &fakeModel{out: out})

			p, err := svc.Classify(solidPNG(t, 8, 8, color.White))
			assert.ErrorIs(t, err, ErrInference, "%v", out)
			assert.Nil(t, p)
		}
	})
}

func TestClassifyBatchEmpty(t *testing.T) {
	m := &fakeModel{out: []float32{1, 0, 0, 0}}
	svc := newService(t, m)

	outcomes := svc.ClassifyBatch(context.Background(), nil)
	assert.Empty(t, outcomes)
	assert.Zero(t, m.calls)
}

func TestClassifyBatchIndependent(t *testing.T) {
	svc := newService(t, &fakeModel{fn: brightnessModel})

	outcomes := svc.ClassifyBatch(context.Background(), []Upload{
		{Name: "dark.png", Data: solidPNG(t, 50, 50, color.Gray{Y: 10})},
		{Name: "bright.png", Data: solidPNG(t, 50, 50, color.Gray{Y: 245})},
	})
	require.Len(t, outcomes, 2)

	require.NoError(t, outcomes[0].Err)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, "dark.png", outcomes[0].Name)
	assert.Equal(t, labels.NoTumor, outcomes[0].Prediction.Label)
	assert.Equal(t, "bright.png", outcomes[1].Name)
	assert.Equal(t, labels.Glioma, outcomes[1].Prediction.Label)

	alone, err := svc.Classify(solidPNG(t, 50, 50, color.Gray{Y: 245}))
	require.NoError(t, err)
	assert.Equal(t, alone.Distribution, outcomes[1].Prediction.Distribution)
}

func TestClassifyBatchIsolatesFailures(t *testing.T) {
	m := &fakeModel{out: []float32{0.7, 0.1, 0.1, 0.1}}
	svc := newService(t, m)

	outcomes := svc.ClassifyBatch(context.Background(), []Upload{
		{Name: "broken.jpg", Data: []byte{0xff, 0xd8, 0x00}},
		{Name: "ok.png", Data: solidPNG(t, 16, 16, color.Black)},
	})
	require.Len(t, outcomes, 2)

	assert.ErrorIs(t, outcomes[0].Err, preprocess.ErrDecode)
	assert.Nil(t, outcomes[0].Prediction)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, labels.Glioma, outcomes[1].Prediction.Label)
	assert.Equal(t, 1, m.calls)
}

func TestClassifyBatchStopsWhenCancelled(t *testing.T) {
	m := &fakeModel{out: []float32{0.7, 0.1, 0.1, 0.1}}
	svc := newService(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := svc.ClassifyBatch(ctx, []Upload{
		{Name: "a.png", Data: solidPNG(t, 4, 4, color.Black)},
	})
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
	assert.Zero(t, m.calls)
}

func TestClassifyBatchLogs(t *testing.T) {
	pre, err := preprocess.New(128, preprocess.NHWC, resize.NearestNeighbor)
	require.NoError(t, err)
	log, hook := test.NewNullLogger()
	svc, err := New(&fakeModel{out: []float32{0, 0, 0, 1}}, pre, log)
	require.NoError(t, err)

	svc.ClassifyBatch(context.Background(), []Upload{
		{Name: "scan.png", Data: solidPNG(t, 4, 4, color.White)},
	})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "scan.png", entry.Data["file"])
	assert.Equal(t, "pituitary_tumor", entry.Data["label"])
}

func TestArgmax(t *testing.T) {
	tests := []struct {
		in   []float32
		want int
	}{
		{nil, -1},
		{[]float32{0.3}, 0},
		{[]float32{0.1, 0.9, 0.0}, 1},
		{[]float32{0.5, 0.5, 0.5}, 0},
		{[]float32{0.2, 0.1, 0.3, 0.3}, 2},
		{[]float32{float32(math.NaN()), 0.9}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Argmax(tt.in), "%v", tt.in)
	}
}

func TestClassifyTensor(t *testing.T) {
	m := &fakeModel{out: []float32{0.1, 0.2, 0.3, 0.4}}
	svc := newService(t, m)
	require.Equal(t, 128*128*3, svc.TensorLen())

	p, err := svc.ClassifyTensor(make([]float32, svc.TensorLen()))
	require.NoError(t, err)
	assert.Equal(t, labels.Pituitary, p.Label)
	assert.InDelta(t, 40.0, p.Confidence, 1e-4)
	assert.Nil(t, p.Image)

	_, err = svc.ClassifyTensor(make([]float32, 10))
	assert.ErrorIs(t, err, ErrTensorSize)
	assert.Equal(t, 1, m.calls)
}
