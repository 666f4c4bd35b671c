package receipt

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/thereceipt/pos-printer/internal/escpos"
)

// LoadLogo reads a header logo and scales it to at most half the paper
// width for the given column count
func LoadLogo(path string, width int) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to load logo: %w", err)
	}

	maxWidth := escpos.PaperDots(width) / 2
	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}
	return imaging.Grayscale(img), nil
}
