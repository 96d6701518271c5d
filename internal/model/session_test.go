package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/mri-classifier/internal/labels"
	"github.com/Brownie44l1/mri-classifier/internal/preprocess"
)

const defaultTestModelPath = "../../models/brain_tumor_model.onnx"

// testModelPath returns the model used by the session tests, skipping when
// it is not available locally.
func testModelPath(t *testing.T) string {
	t.Helper()
	path := os.Getenv("MRI_TEST_MODEL")
	if path == "" {
		path = defaultTestModelPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("model file not found; run 'mriclassify fetch-model' first")
	}
	return path
}

func testOptions() Options {
	return Options{
		RuntimeLibrary: os.Getenv("MRI_TEST_ORT_LIBRARY"),
		ImageSize:      128,
		Layout:         preprocess.NHWC,
	}
}

func TestLoadMissingModel(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.onnx"), testOptions())
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestSessionPredict(t *testing.T) {
	path := testModelPath(t)

	s, err := Load(path, testOptions())
	require.NoError(t, err)
	defer s.Close()

	meta := s.Metadata()
	input := make([]float32, meta.InputLen())
	for i := range input {
		input[i] = 0.5
	}

	out, err := s.Predict(input)
	require.NoError(t, err)
	require.Len(t, out, labels.Count)

	var sum float32
	for _, v := range out {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-3)

	again, err := s.Predict(input)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestSessionPredictRejectsWrongSize(t *testing.T) {
	path := testModelPath(t)

	s, err := Load(path, testOptions())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Predict(make([]float32, 10))
	assert.ErrorIs(t, err, ErrInputSize)
}

func TestPredictAfterClose(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Close())

	_, err := s.Predict(make([]float32, 3))
	assert.ErrorIs(t, err, ErrClosed)
}
