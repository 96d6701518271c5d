// Package labels defines the fixed set of tumor categories the classifier
// predicts, in model output order, together with their display attributes.
package labels

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Label is one classifier output category. Its value is the index of the
// corresponding entry in the model's output vector.
type Label int

const (
	Glioma Label = iota
	Meningioma
	NoTumor
	Pituitary
)

// Count is the number of labels and the required model output width.
const Count = 4

var names = [Count]string{
	Glioma:     "glioma_tumor",
	Meningioma: "meningioma_tumor",
	NoTumor:    "no_tumor",
	Pituitary:  "pituitary_tumor",
}

var colors = [Count]string{
	Glioma:     "#FF9999",
	Meningioma: "#99FF99",
	NoTumor:    "#99CCFF",
	Pituitary:  "#FFCC99",
}

var titleCaser = cases.Title(language.English)

// All returns every label in model output order.
func All() []Label {
	return []Label{Glioma, Meningioma, NoTumor, Pituitary}
}

// Valid reports whether l is one of the four known labels.
func (l Label) Valid() bool {
	return l >= 0 && int(l) < Count
}

// Index returns the position of l in the model output vector.
func (l Label) Index() int {
	return int(l)
}

func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return names[l]
}

// Color returns the hex display colour used for panels and chart bars.
func (l Label) Color() string {
	if !l.Valid() {
		return "#CCCCCC"
	}
	return colors[l]
}

// DisplayName returns a human readable name, e.g. "Glioma Tumor".
func (l Label) DisplayName() string {
	return titleCaser.String(strings.ReplaceAll(l.String(), "_", " "))
}

// MarshalText encodes the label as its identifier.
func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("labels: invalid label %d", int(l))
	}
	return []byte(names[l]), nil
}

// UnmarshalText decodes a label identifier.
func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Parse resolves a label identifier. Matching ignores case and surrounding
// whitespace; hyphens and spaces are accepted in place of underscores.
func Parse(s string) (Label, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for i, n := range names {
		if n == key {
			return Label(i), nil
		}
	}
	return -1, fmt.Errorf("labels: unknown label %q", s)
}

// FromIndex maps a model output index back to its label.
func FromIndex(i int) (Label, error) {
	l := Label(i)
	if !l.Valid() {
		return -1, fmt.Errorf("labels: index %d out of range [0,%d)", i, Count)
	}
	return l, nil
}
