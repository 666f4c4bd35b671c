package escpos

import (
	"bytes"
)

// Paper widths in dots at 203 dpi
const (
	Dots58mm = 384
	Dots80mm = 576
)

// PaperDots returns the printable width in dots for a character width
func PaperDots(columns int) int {
	if columns > 32 {
		return Dots80mm
	}
	return Dots58mm
}

// Encoder accumulates an ESC/POS command stream
type Encoder struct {
	buffer   *bytes.Buffer
	codePage CodePage
	dots     int
}

// NewEncoder creates a new ESC/POS encoder for 58mm paper
func NewEncoder() *Encoder {
	return &Encoder{
		buffer: new(bytes.Buffer),
		dots:   Dots58mm,
	}
}

// SetPaperDots sets the raster width used for images
func (e *Encoder) SetPaperDots(dots int) {
	if dots > 0 {
		e.dots = dots
	}
}

// Initialize sends initialization command and reselects the code page
func (e *Encoder) Initialize() {
	e.buffer.Write(Initialize)
	if cmd := e.codePage.selectCommand(); cmd != nil {
		e.buffer.Write(cmd)
	}
}

// SetCodePage selects the character table for subsequent text
func (e *Encoder) SetCodePage(cp CodePage) {
	e.codePage = cp
	if cmd := cp.selectCommand(); cmd != nil {
		e.buffer.Write(cmd)
	}
}

// SetAlignment sets text alignment
func (e *Encoder) SetAlignment(align string) {
	switch align {
	case "center":
		e.buffer.Write(TextCentered)
	case "right":
		e.buffer.Write(TextRight)
	default:
		e.buffer.Write(TextLeft)
	}
}

// SetTextMode writes ESC ! n with the given mode bits
func (e *Encoder) SetTextMode(mode byte) {
	e.buffer.Write([]byte{ESC, '!', mode})
}

// SetBold enables or disables emphasized text
func (e *Encoder) SetBold(enabled bool) {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('E')
	if enabled {
		e.buffer.WriteByte(1)
	} else {
		e.buffer.WriteByte(0)
	}
}

// SetTextSize sets character magnification with GS ! n
func (e *Encoder) SetTextSize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width > 8 {
		width = 8
	}
	if height > 8 {
		height = 8
	}

	size := byte(((width - 1) << 4) | (height - 1))

	e.buffer.WriteByte(GS)
	e.buffer.WriteByte('!')
	e.buffer.WriteByte(size)
}

// WriteText writes text in the current code page
func (e *Encoder) WriteText(text string) {
	e.buffer.Write(EncodeText(text, e.codePage))
}

// Line writes text followed by a line feed
func (e *Encoder) Line(text string) {
	e.WriteText(text)
	e.LineFeed()
}

// LineFeed sends line feed
func (e *Encoder) LineFeed() {
	e.buffer.WriteByte(LF)
}

// Feed sends multiple line feeds
func (e *Encoder) Feed(lines int) {
	for i := 0; i < lines; i++ {
		e.LineFeed()
	}
}

// Cut sends the partial cut command (GS V 1)
func (e *Encoder) Cut() {
	e.buffer.Write(CutPaper)
}

// FullCut sends the full cut command (GS V 0)
func (e *Encoder) FullCut() {
	e.buffer.Write(FullCut)
}

// QRCode writes a native QR symbol. Nothing is written on error.
func (e *Encoder) QRCode(payload string, opts QROptions) error {
	cmd, err := QRCode(payload, opts)
	if err != nil {
		return err
	}
	e.buffer.Write(cmd)
	return nil
}

// Raw appends pre-built command bytes
func (e *Encoder) Raw(data []byte) {
	e.buffer.Write(data)
}

// Bytes returns the generated ESC/POS commands
func (e *Encoder) Bytes() []byte {
	out := make([]byte, e.buffer.Len())
	copy(out, e.buffer.Bytes())
	return out
}

// Len returns the number of buffered bytes
func (e *Encoder) Len() int {
	return e.buffer.Len()
}

// Reset clears the buffer
func (e *Encoder) Reset() {
	e.buffer.Reset()
}
