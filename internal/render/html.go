package render

import (
	"bytes"
	"embed"
	"encoding/base64"
	"html/template"
	"image"
	"image/png"
	"io"

	"github.com/Brownie44l1/mri-classifier/internal/apperrors"
	"github.com/Brownie44l1/mri-classifier/internal/classifier"
	"github.com/Brownie44l1/mri-classifier/internal/labels"
)

// PageTemplate is the name of the upload page template.
const PageTemplate = "index.html"

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the embedded HTML templates. gin installs them with
// SetHTMLTemplate.
func Templates() *template.Template {
	return template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))
}

// LegendItem is one coloured box in the sidebar legend.
type LegendItem struct {
	Name  string
	Color string
}

// Legend lists every label with its colour, in label order.
func Legend() []LegendItem {
	items := make([]LegendItem, 0, labels.Count)
	for _, l := range labels.All() {
		items = append(items, LegendItem{Name: l.String(), Color: l.Color()})
	}
	return items
}

// Panel is the rendered result for one uploaded file.
type Panel struct {
	FileName   string
	Image      template.URL
	Label      string
	Color      string
	Confidence string
	Chart      SVGChart
	Error      string
}

// Page is the data behind the upload page.
type Page struct {
	Title       string
	Subtitle    string
	Legend      []LegendItem
	Panels      []Panel
	Accept      string
	MaxUploadMB int64
	// Error is shown above the form when the whole request failed.
	Error string
}

// NewPage builds the upload page for a batch of outcomes. An empty batch
// renders the form alone.
func NewPage(outcomes []classifier.Outcome, maxUploadBytes int64) Page {
	p := Page{
		Title:       "Brain Tumor MRI Classification",
		Subtitle:    "Upload MRI images and see predictions with confidence charts.",
		Legend:      Legend(),
		Accept:      ".jpg,.jpeg,.png",
		MaxUploadMB: maxUploadBytes >> 20,
	}
	for _, o := range outcomes {
		p.Panels = append(p.Panels, NewPanel(o))
	}
	return p
}

// NewErrorPage is the upload page with a banner describing err.
func NewErrorPage(err error, maxUploadBytes int64) Page {
	p := NewPage(nil, maxUploadBytes)
	p.Error = apperrors.PublicMessage(err, "Request failed")
	return p
}

// NewPanel converts one classification outcome into display data. An
// AppError shows only its Message.
func NewPanel(o classifier.Outcome) Panel {
	panel := Panel{FileName: o.Name}
	if o.Err != nil {
		panel.Error = apperrors.PublicMessage(o.Err, o.Err.Error())
		return panel
	}

	pred := o.Prediction
	panel.Label = pred.Label.String()
	panel.Color = pred.Label.Color()
	panel.Confidence = Confidence(pred.Confidence)
	panel.Chart = NewChart(pred.Distribution).Layout()
	if uri, err := DataURI(pred.Image); err == nil {
		panel.Image = uri
	}
	return panel
}

// DataURI encodes img as an inline PNG.
func DataURI(img image.Image) (template.URL, error) {
	if img == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// HTML writes the upload page to w. It is used outside gin, e.g. by tests
// and the CLI's --html output.
func HTML(w io.Writer, page Page) error {
	return Templates().ExecuteTemplate(w, PageTemplate, page)
}
