package escpos

import (
	"fmt"
	"image"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/disintegration/imaging"
	"github.com/skip2/go-qrcode"
)

// PrintImage converts an image to a GS v 0 raster block. Images wider than
// the paper are scaled down to fit.
func (e *Encoder) PrintImage(img image.Image) error {
	if img == nil {
		return fmt.Errorf("nil image")
	}
	if img.Bounds().Dx() > e.dots {
		img = imaging.Resize(img, e.dots, 0, imaging.Lanczos)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return fmt.Errorf("empty image")
	}

	bytesPerLine := (width + 7) / 8
	bitmap := imageToBitmap(img)

	// GS v 0 m xL xH yL yH d1...dk
	e.buffer.Write([]byte{
		GS, 'v', '0', 0,
		byte(bytesPerLine % 256), byte(bytesPerLine / 256),
		byte(height % 256), byte(height / 256),
	})
	e.buffer.Write(bitmap)
	e.LineFeed()

	return nil
}

// QRCodeImage prints a QR symbol as a raster image, for printers without
// native QR support
func (e *Encoder) QRCodeImage(payload string, sizePx int) error {
	if sizePx <= 0 {
		sizePx = e.dots / 2
	}
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to generate QR code: %w", err)
	}
	return e.PrintImage(qr.Image(sizePx))
}

// Barcode prints a CODE128 barcode as a raster image
func (e *Encoder) Barcode(value string, heightPx int) error {
	if heightPx <= 0 {
		heightPx = 80
	}
	code, err := code128.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode barcode: %w", err)
	}

	width := code.Bounds().Dx() * 2
	if width > e.dots {
		width = e.dots
	}
	if width < code.Bounds().Dx() {
		return fmt.Errorf("barcode %q too wide for paper", value)
	}

	scaled, err := barcode.Scale(code, width, heightPx)
	if err != nil {
		return fmt.Errorf("failed to scale barcode: %w", err)
	}
	return e.PrintImage(scaled)
}

// imageToBitmap converts an image to a 1-bit bitmap, one bit per dot, MSB first
func imageToBitmap(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bytesPerLine := (width + 7) / 8
	bitmap := make([]byte, bytesPerLine*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			// Transparent pixels print as paper
			if a < 0x8000 {
				continue
			}

			gray := (r + g + b) / 3
			if gray < 0x8000 {
				byteIndex := y*bytesPerLine + x/8
				bitIndex := 7 - (x % 8)
				bitmap[byteIndex] |= 1 << bitIndex
			}
		}
	}

	return bitmap
}
