package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/fogleman/gg"
	"github.com/skip2/go-qrcode"
)

// gg's built-in face is 7x13
const (
	glyphWidth = 7.0
	lineHeight = 16.0
	margin     = 8
)

// Renderer draws a decoded document onto a paper-width canvas
type Renderer struct {
	width   int // Paper width in pixels
	height  int // Current canvas height
	columns int
	ctx     *gg.Context
	y       float64 // Current Y position
}

// NewRenderer creates a renderer for the given paper width in dots and
// characters per line
func NewRenderer(dots, columns int) *Renderer {
	if columns < 1 {
		columns = 32
	}
	initialHeight := 1000

	ctx := gg.NewContext(dots+2*margin, initialHeight)
	ctx.SetColor(color.White)
	ctx.Clear()
	ctx.SetColor(color.Black)

	return &Renderer{
		width:   dots,
		height:  initialHeight,
		columns: columns,
		ctx:     ctx,
	}
}

// Render draws every block and returns the image cropped to its content
func (r *Renderer) Render(doc *Document) (image.Image, error) {
	for _, block := range doc.Blocks {
		if err := r.renderBlock(block); err != nil {
			return nil, fmt.Errorf("failed to render block: %w", err)
		}
	}
	return r.cropToContent(), nil
}

// RenderPNG decodes an ESC/POS stream and returns a PNG preview
func RenderPNG(data []byte, dots, columns int) ([]byte, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode print data: %w", err)
	}

	img, err := NewRenderer(dots, columns).Render(doc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) renderBlock(b Block) error {
	switch b.Kind {
	case BlockText:
		r.renderText(b)
	case BlockQR:
		return r.renderQRCode(b)
	case BlockRaster:
		r.renderImage(b.Image, b.Align)
	case BlockCut:
		r.renderCut()
	}
	return nil
}

func (r *Renderer) renderText(b Block) {
	// scale the fixed font so a full line spans the paper
	sx := float64(r.width) / (float64(r.columns) * glyphWidth)
	sy := sx
	if b.DoubleWidth {
		sx *= 2
	}
	if b.DoubleHeight {
		sy *= 2
	}

	h := lineHeight * sy
	r.ensureHeight(int(h) + 1)

	textWidth := float64(len([]rune(b.Text))) * glyphWidth * sx
	x := float64(margin)
	switch b.Align {
	case "center":
		x += (float64(r.width) - textWidth) / 2
	case "right":
		x += float64(r.width) - textWidth
	}

	r.ctx.Push()
	r.ctx.Translate(x, r.y+h*0.8)
	r.ctx.Scale(sx, sy)
	r.ctx.DrawString(b.Text, 0, 0)
	if b.Bold {
		r.ctx.DrawString(b.Text, 0.5, 0)
	}
	r.ctx.Pop()

	r.y += h
}

func (r *Renderer) renderQRCode(b Block) error {
	if b.QR == "" {
		return nil
	}
	qr, err := qrcode.New(b.QR, qrcode.Medium)
	if err != nil {
		return err
	}

	qrSize := r.width / 2
	r.renderImage(qr.Image(qrSize), b.Align)
	return nil
}

func (r *Renderer) renderImage(img image.Image, align string) {
	if img == nil {
		return
	}
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	r.ensureHeight(h)

	x := margin
	switch align {
	case "center":
		x += (r.width - w) / 2
	case "right":
		x += r.width - w
	}

	r.ctx.DrawImage(img, x, int(r.y))
	r.y += float64(h)
}

func (r *Renderer) renderCut() {
	r.ensureHeight(20)

	y := r.y + 10
	dash := 8.0
	r.ctx.SetLineWidth(1)
	for x := 0.0; x < float64(r.width+2*margin); x += dash * 2 {
		r.ctx.DrawLine(x, y, x+dash, y)
		r.ctx.Stroke()
	}

	r.y += 20
}

func (r *Renderer) cropToContent() image.Image {
	finalHeight := int(r.y) + margin
	if finalHeight > r.height {
		finalHeight = r.height
	}

	img := r.ctx.Image()
	return img.(interface {
		SubImage(r image.Rectangle) image.Image
	}).SubImage(image.Rect(0, 0, r.width+2*margin, finalHeight))
}

func (r *Renderer) ensureHeight(neededHeight int) {
	if int(r.y)+neededHeight > r.height {
		newHeight := r.height * 2
		if newHeight < int(r.y)+neededHeight {
			newHeight = int(r.y) + neededHeight + 1000
		}

		newCtx := gg.NewContext(r.width+2*margin, newHeight)
		newCtx.SetColor(color.White)
		newCtx.Clear()
		newCtx.DrawImage(r.ctx.Image(), 0, 0)
		newCtx.SetColor(color.Black)

		r.ctx = newCtx
		r.height = newHeight
	}
}
