package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

var (
	ErrUnknownDevice     = errors.New("unknown device preset")
	ErrNoDimensions      = errors.New("either width, height or a device preset must be specified")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrBadColor          = errors.New("invalid color")
)

// Size is a pixel resolution.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var devicePresets = map[string]Size{
	"iphone":  {1170, 2532},
	"ipad":    {1640, 2360},
	"mac":     {1512, 982},
	"desktop": {1920, 1080},
	"4k":      {3840, 2160},
}

// Device looks up a wallpaper preset by name.
func Device(name string) (Size, error) {
	s, ok := devicePresets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Size{}, fmt.Errorf("%w %q, available presets: %s", ErrUnknownDevice, name, strings.Join(Devices(), ", "))
	}
	return s, nil
}

// Devices lists the preset names.
func Devices() []string {
	names := make([]string, 0, len(devicePresets))
	for name := range devicePresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type FitMethod string

const (
	// Cover scales to fill the target and crops the overflow.
	Cover FitMethod = "cover"
	// Contain scales to fit inside the target and pads the rest.
	Contain FitMethod = "contain"
	// Fill stretches to the exact target.
	Fill FitMethod = "fill"
)

// ParseFitMethod accepts the relay names plus the older fit/pad/stretch aliases.
func ParseFitMethod(s string) FitMethod {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cover":
		return Cover
	case "fill", "stretch":
		return Fill
	default:
		return Contain
	}
}

type ResizeOptions struct {
	Width               int
	Height              int
	Device              string
	MaintainAspectRatio bool
	Fit                 FitMethod
	Background          color.Color
}

// Resize scales img to the requested dimensions using Lanczos resampling.
func Resize(img image.Image, opts ResizeOptions) (*image.NRGBA, error) {
	width, height := opts.Width, opts.Height
	if opts.Device != "" {
		s, err := Device(opts.Device)
		if err != nil {
			return nil, err
		}
		width, height = s.Width, s.Height
	}
	if width <= 0 && height <= 0 {
		return nil, ErrNoDimensions
	}

	b := img.Bounds()
	ow, oh := b.Dx(), b.Dy()
	if width <= 0 {
		width = ow * height / oh
	}
	if height <= 0 {
		height = oh * width / ow
	}

	bg := opts.Background
	if bg == nil {
		bg = color.Black
	}

	if !opts.MaintainAspectRatio {
		return imaging.Resize(img, width, height, imaging.Lanczos), nil
	}

	switch opts.Fit {
	case Cover:
		return imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos), nil
	case Fill:
		return imaging.Resize(img, width, height, imaging.Lanczos), nil
	default:
		ratio := math.Min(float64(width)/float64(ow), float64(height)/float64(oh))
		nw := max(1, int(float64(ow)*ratio))
		nh := max(1, int(float64(oh)*ratio))
		scaled := imaging.Resize(img, nw, nh, imaging.Lanczos)
		if nw == width && nh == height {
			return scaled, nil
		}
		return imaging.PasteCenter(imaging.New(width, height, bg), scaled), nil
	}
}

// Upscale enlarges img by factor. With preserve set the result is scaled back
// to the original dimensions.
func Upscale(img image.Image, factor float64, preserve bool) *image.NRGBA {
	b := img.Bounds()
	w := int(float64(b.Dx()) * factor)
	h := int(float64(b.Dy()) * factor)
	out := imaging.Resize(img, w, h, imaging.Lanczos)
	if preserve {
		out = imaging.Resize(out, b.Dx(), b.Dy(), imaging.Lanczos)
	}
	return out
}

// Variation jitters contrast and brightness, then blurs even indices and
// sharpens odd ones.
func Variation(img image.Image, index int, strength float64, rnd *rand.Rand) *image.NRGBA {
	effect := strength * 1.5
	contrast := 0.8 + rnd.Float64()*effect
	brightness := 0.9 + rnd.Float64()*effect

	out := imaging.AdjustContrast(img, factorToPercent(contrast))
	out = imaging.AdjustBrightness(out, factorToPercent(brightness))
	if index%2 == 0 {
		return imaging.Blur(out, 0.5*effect)
	}
	return imaging.Sharpen(out, 0.5)
}

func factorToPercent(f float64) float64 {
	p := (f - 1) * 100
	if p > 100 {
		return 100
	}
	if p < -100 {
		return -100
	}
	return p
}

// Decode reads an image in any format imaging understands.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Encode writes img in the named format ("png", "jpeg"/"jpg", "gif").
func Encode(w io.Writer, img image.Image, format string) error {
	f, err := ParseFormat(format)
	if err != nil {
		return err
	}
	return imaging.Encode(w, img, f)
}

// ParseFormat maps a format name to an imaging format.
func ParseFormat(format string) (imaging.Format, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "png":
		return imaging.PNG, nil
	case "jpeg", "jpg":
		return imaging.JPEG, nil
	case "gif":
		return imaging.GIF, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Extension returns the file extension for a format name.
func Extension(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "jpg"
	case "gif":
		return "gif"
	default:
		return "png"
	}
}

// ParseHexColor parses "#rrggbb" or "#rgb".
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrBadColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrBadColor, s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
