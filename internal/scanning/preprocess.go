package scanning

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Preprocess configures the cleanup applied to a capture before recognition
type Preprocess struct {
	Enabled bool
	// Contrast in percent, -100..100
	Contrast float64
	// Threshold binarises the grayscale image; 0 disables it
	Threshold uint8
}

// DefaultPreprocess is tuned for printed shelf labels
var DefaultPreprocess = Preprocess{
	Enabled:  true,
	Contrast: 40,
}

// Apply converts to grayscale, boosts contrast and optionally thresholds
func (p Preprocess) Apply(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	if p.Contrast != 0 {
		out = imaging.AdjustContrast(out, p.Contrast)
	}
	if p.Threshold > 0 {
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			if c.R >= p.Threshold {
				return color.NRGBA{R: 255, G: 255, B: 255, A: c.A}
			}
			return color.NRGBA{A: c.A}
		})
	}
	return out
}
