package render

import (
	"bytes"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/mri-classifier/internal/apperrors"
	"github.com/Brownie44l1/mri-classifier/internal/classifier"
	"github.com/Brownie44l1/mri-classifier/internal/labels"
)

func samplePrediction() *classifier.Prediction {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return &classifier.Prediction{
		Label:        labels.Meningioma,
		Confidence:   87.5,
		Distribution: [labels.Count]float32{0.05, 0.875, 0.05, 0.025},
		Image:        img,
		Format:       "png",
	}
}

func TestNewChart(t *testing.T) {
	c := NewChart([labels.Count]float32{0.1, 0.6, 0.25, 0.05})

	assert.Equal(t, "Model Prediction Probabilities", c.Title)
	assert.Equal(t, "Probability", c.YLabel)
	require.Len(t, c.Bars, labels.Count)
	for i, l := range labels.All() {
		assert.Equal(t, l, c.Bars[i].Label)
		assert.Equal(t, l.String(), c.Bars[i].Name)
		assert.Equal(t, l.Color(), c.Bars[i].Color)
	}
	assert.Equal(t, "60.0%", c.Bars[1].Annotation)
	assert.Equal(t, "25.0%", c.Bars[2].Annotation)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "87.5%", Percent(0.875))
	assert.Equal(t, "0.0%", Percent(0))
	assert.Equal(t, "100.0%", Percent(1))
	assert.Equal(t, "87.50%", Confidence(87.5))
	assert.Equal(t, "33.33%", Confidence(100.0/3))
}

func TestLayoutFixesAxisToUnitRange(t *testing.T) {
	s := NewChart([labels.Count]float32{1, 0.5, 0, 1.7}).Layout()

	require.Len(t, s.Bars, labels.Count)
	require.Len(t, s.Ticks, 6)
	assert.Equal(t, "0.0", s.Ticks[0].Label)
	assert.Equal(t, "1.0", s.Ticks[5].Label)
	assert.Equal(t, s.PlotBottom, s.Ticks[0].Y)
	assert.Equal(t, s.PlotTop, s.Ticks[5].Y)

	full := s.PlotBottom - s.PlotTop
	assert.InDelta(t, full, s.Bars[0].Height, 1e-9)
	assert.InDelta(t, full/2, s.Bars[1].Height, 1e-9)
	assert.Zero(t, s.Bars[2].Height)
	// Out of range values are clipped to the plot.
	assert.InDelta(t, full, s.Bars[3].Height, 1e-9)

	for i := 1; i < len(s.Bars); i++ {
		assert.Greater(t, s.Bars[i].X, s.Bars[i-1].X)
	}
	for _, b := range s.Bars {
		assert.LessOrEqual(t, b.TextY, b.Y)
		assert.GreaterOrEqual(t, b.X, s.PlotLeft)
		assert.LessOrEqual(t, b.X+b.Width, s.PlotRight)
	}
}

func TestNewPanel(t *testing.T) {
	p := NewPanel(classifier.Outcome{Name: "scan.png", Prediction: samplePrediction()})

	assert.Equal(t, "scan.png", p.FileName)
	assert.Equal(t, "meningioma_tumor", p.Label)
	assert.Equal(t, "#99FF99", p.Color)
	assert.Equal(t, "87.50%", p.Confidence)
	assert.True(t, strings.HasPrefix(string(p.Image), "data:image/png;base64,"))
	assert.Len(t, p.Chart.Bars, labels.Count)
	assert.Empty(t, p.Error)
}

func TestNewPanelError(t *testing.T) {
	p := NewPanel(classifier.Outcome{Name: "notes.txt", Err: errors.New("unsupported image")})

	assert.Equal(t, "notes.txt", p.FileName)
	assert.Equal(t, "unsupported image", p.Error)
	assert.Empty(t, p.Label)
	assert.Empty(t, p.Image)
}

func TestNewPanelShowsAppErrorMessage(t *testing.T) {
	err := apperrors.NewProcessingError("Invalid image format", errors.New("png: invalid format: bad magic"))
	p := NewPanel(classifier.Outcome{Name: "notes.txt", Err: err})

	assert.Equal(t, "Invalid image format", p.Error)
}

func TestHTMLErrorBanner(t *testing.T) {
	page := NewErrorPage(apperrors.NewTooLargeError("upload exceeds size limit", errors.New("http: request body too large")), 1<<20)

	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, page))
	out := buf.String()

	assert.Contains(t, out, `<div class="error" role="alert">upload exceeds size limit</div>`)
	assert.NotContains(t, out, "http: request body too large")
	assert.Contains(t, out, `name="images"`)
	assert.NotContains(t, out, "File:")

	buf.Reset()
	require.NoError(t, HTML(&buf, NewPage(nil, 1<<20)))
	assert.NotContains(t, buf.String(), `role="alert"`)
}

func TestDataURINilImage(t *testing.T) {
	uri, err := DataURI(nil)
	require.NoError(t, err)
	assert.Empty(t, uri)
}

func TestHTMLWithoutPanels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, NewPage(nil, 32<<20)))
	out := buf.String()

	assert.Contains(t, out, "Brain Tumor MRI Classification")
	assert.Contains(t, out, "Tumor Types Legend")
	assert.Contains(t, out, `name="images"`)
	assert.Contains(t, out, `accept=".jpg,.jpeg,.png"`)
	assert.Contains(t, out, "max 32 MB")
	for _, l := range labels.All() {
		assert.Contains(t, out, l.String())
		assert.Contains(t, out, l.Color())
	}
	assert.NotContains(t, out, "File:")
	assert.NotContains(t, out, "<svg")
}

func TestHTMLWithPanels(t *testing.T) {
	outcomes := []classifier.Outcome{
		{Name: "a.png", Prediction: samplePrediction()},
		{Name: "b.txt", Err: errors.New("decode failed")},
	}
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, NewPage(outcomes, 32<<20)))
	out := buf.String()

	assert.Contains(t, out, "File: a.png")
	assert.Contains(t, out, "File: b.txt")
	assert.Contains(t, out, "Prediction: meningioma_tumor (87.50%)")
	assert.Contains(t, out, "Prediction Confidence for All Tumor Types")
	assert.Contains(t, out, "Model Prediction Probabilities")
	assert.Contains(t, out, "87.5%")
	assert.Contains(t, out, `src="data:image/png;base64,`)
	assert.Contains(t, out, "decode failed")
	assert.Equal(t, 1, strings.Count(out, "<svg"))
}

func TestHTMLEscapesFileNames(t *testing.T) {
	outcomes := []classifier.Outcome{{Name: "<script>x</script>.png", Err: errors.New("bad")}}
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, NewPage(outcomes, 1<<20)))

	assert.NotContains(t, buf.String(), "<script>x</script>")
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}

func TestTerminal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Terminal(&buf, classifier.Outcome{Name: "scan.png", Prediction: samplePrediction()}))
	out := buf.String()

	assert.Contains(t, out, "File: scan.png")
	assert.Contains(t, out, "Prediction: meningioma_tumor (87.50%)")
	assert.Contains(t, out, "Model Prediction Probabilities")
	for _, l := range labels.All() {
		assert.Contains(t, out, l.String())
	}
	assert.Contains(t, out, "87.5%")
	assert.Contains(t, out, "2.5%")
}

func TestTerminalError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Terminal(&buf, classifier.Outcome{Name: "x.bin", Err: errors.New("boom")}))

	assert.Contains(t, buf.String(), "File: x.bin")
	assert.Contains(t, buf.String(), "Error: boom")
	assert.NotContains(t, buf.String(), "Prediction:")
}

func TestLegendText(t *testing.T) {
	out := LegendText()
	assert.Contains(t, out, "Tumor Types Legend")
	assert.Contains(t, out, "Glioma Tumor")
	assert.Contains(t, out, "pituitary_tumor")
}

