// Package preprocess turns uploaded image bytes into the float32 tensor the
// classifier expects: decode in memory, resize to a square, scale to [0,1].
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Channels is the number of colour channels fed to the model (RGB).
const Channels = 3

var (
	// ErrDecode is returned when the bytes are not a supported JPEG/PNG image.
	ErrDecode = errors.New("preprocess: cannot decode image")
	// ErrEmptyImage is returned for images with no pixels.
	ErrEmptyImage = errors.New("preprocess: image has no pixels")
)

// Layout is the memory order of the tensor handed to the model.
type Layout int

const (
	// NHWC is batch, height, width, channel (Keras/TensorFlow exports).
	NHWC Layout = iota
	// NCHW is batch, channel, height, width (PyTorch exports).
	NCHW
)

func (l Layout) String() string {
	switch l {
	case NHWC:
		return "nhwc"
	case NCHW:
		return "nchw"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// ParseLayout accepts "nhwc" or "nchw" in any case.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nhwc", "":
		return NHWC, nil
	case "nchw":
		return NCHW, nil
	default:
		return 0, fmt.Errorf("unknown tensor layout %q", s)
	}
}

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseInterpolation maps a resampling name to its nfnt/resize function.
// The empty string selects nearest neighbour, which is what Keras' load_img
// uses by default. Resize samples nearest neighbour itself; see Resize.
func ParseInterpolation(s string) (resize.InterpolationFunction, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return resize.NearestNeighbor, nil
	}
	fn, ok := interpolations[key]
	if !ok {
		return 0, fmt.Errorf("unknown interpolation %q", s)
	}
	return fn, nil
}

// Decode decodes a JPEG or PNG image directly from memory.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, "", ErrEmptyImage
	}
	return img, format, nil
}

// Resize scales img to exactly size×size, ignoring the aspect ratio.
//
// resize.NearestNeighbor is served by single-pixel sampling, as PIL's NEAREST
// filter does: output pixel x reads source pixel floor((x+0.5)*scale).
// nfnt's own nearest filter widens its kernel when shrinking and so averages
// blocks of pixels. The other filters go through nfnt/resize.
func Resize(img image.Image, size int, interp resize.InterpolationFunction) image.Image {
	if interp == resize.NearestNeighbor {
		return sampleNearest(img, size)
	}
	return resize.Resize(uint(size), uint(size), img, interp)
}

func sampleNearest(img image.Image, size int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Tensor flattens img into a batch-of-one float32 tensor in the given layout.
// Alpha is dropped and each channel is scaled from [0,255] to [0,1].
// Non-premultiplied sources keep their raw colour values, as PIL's
// convert("RGB") does.
func Tensor(img image.Image, layout Layout) []float32 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	plane := width * height
	data := make([]float32, Channels*plane)
	at := rgbReader(img)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl := at(b.Min.X+x, b.Min.Y+y)

			pixel := y*width + x
			switch layout {
			case NCHW:
				data[pixel] = r
				data[plane+pixel] = g
				data[2*plane+pixel] = bl
			default:
				data[pixel*Channels] = r
				data[pixel*Channels+1] = g
				data[pixel*Channels+2] = bl
			}
		}
	}
	return data
}

func rgbReader(img image.Image) func(x, y int) (float32, float32, float32) {
	switch src := img.(type) {
	case *image.NRGBA:
		return func(x, y int) (float32, float32, float32) {
			c := src.NRGBAAt(x, y)
			return float32(c.R) / 255.0, float32(c.G) / 255.0, float32(c.B) / 255.0
		}
	case *image.NRGBA64:
		return func(x, y int) (float32, float32, float32) {
			c := src.NRGBA64At(x, y)
			return float32(c.R) / 65535.0, float32(c.G) / 65535.0, float32(c.B) / 65535.0
		}
	default:
		return func(x, y int) (float32, float32, float32) {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			return float32(c.R) / 65535.0, float32(c.G) / 65535.0, float32(c.B) / 65535.0
		}
	}
}

// Prepared is the result of running an upload through a Preprocessor.
type Prepared struct {
	Tensor []float32
	// Image is the resized image the tensor was built from.
	Image  image.Image
	Format string
}

// Preprocessor holds the fixed input geometry of one model.
type Preprocessor struct {
	Size          int
	Layout        Layout
	Interpolation resize.InterpolationFunction
}

// New validates the geometry and returns a Preprocessor.
func New(size int, layout Layout, interp resize.InterpolationFunction) (*Preprocessor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("preprocess: size must be > 0 (got %d)", size)
	}
	if layout != NHWC && layout != NCHW {
		return nil, fmt.Errorf("preprocess: unsupported layout %s", layout)
	}
	return &Preprocessor{Size: size, Layout: layout, Interpolation: interp}, nil
}

// TensorLen is the number of float32 values Prepare produces.
func (p *Preprocessor) TensorLen() int {
	return Channels * p.Size * p.Size
}

// Prepare decodes, resizes and normalises one upload.
func (p *Preprocessor) Prepare(data []byte) (*Prepared, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	resized := Resize(img, p.Size, p.Interpolation)
	return &Prepared{
		Tensor: Tensor(resized, p.Layout),
		Image:  resized,
		Format: format,
	}, nil
}
