// Package preview decodes ESC/POS byte streams back into printable blocks
// and renders them as images, so receipts can be checked without paper.
package preview

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/text/encoding/charmap"
)

// BlockKind identifies what a decoded block holds
type BlockKind int

const (
	BlockText BlockKind = iota
	BlockQR
	BlockRaster
	BlockCut
)

// Block is one printed element in stream order
type Block struct {
	Kind         BlockKind
	Text         string
	Align        string
	Bold         bool
	DoubleHeight bool
	DoubleWidth  bool
	QR           string
	Image        *image.Gray
	FullCut      bool
}

// Document is a decoded print job
type Document struct {
	Blocks []Block
}

// Lines returns the text lines in order
func (d *Document) Lines() []string {
	var lines []string
	for _, b := range d.Blocks {
		if b.Kind == BlockText {
			lines = append(lines, b.Text)
		}
	}
	return lines
}

// QRPayloads returns the payloads of every printed native QR symbol
func (d *Document) QRPayloads() []string {
	var out []string
	for _, b := range d.Blocks {
		if b.Kind == BlockQR {
			out = append(out, b.QR)
		}
	}
	return out
}

// Count returns the number of blocks of a kind
func (d *Document) Count(kind BlockKind) int {
	n := 0
	for _, b := range d.Blocks {
		if b.Kind == kind {
			n++
		}
	}
	return n
}

type textState struct {
	align        string
	bold         bool
	doubleHeight bool
	doubleWidth  bool
	codePage     *charmap.Charmap
}

func (s *textState) reset() {
	*s = textState{align: "left"}
}

type decoder struct {
	data    []byte
	pos     int
	state   textState
	pending []byte
	qrData  string
	doc     Document
}

// Decode parses an ESC/POS stream into blocks. It understands the commands
// the escpos encoder emits and rejects anything else.
func Decode(data []byte) (*Document, error) {
	d := &decoder{data: data}
	d.state.reset()

	for d.pos < len(d.data) {
		b := d.data[d.pos]
		switch b {
		case 0x0A:
			d.pos++
			d.flushLine(true)
		case 0x1B:
			if err := d.esc(); err != nil {
				return nil, err
			}
		case 0x1D:
			if err := d.gs(); err != nil {
				return nil, err
			}
		default:
			d.pending = append(d.pending, b)
			d.pos++
		}
	}
	d.flushLine(false)

	return &d.doc, nil
}

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.data) {
		return fmt.Errorf("truncated command at offset %d", d.pos)
	}
	return nil
}

func (d *decoder) flushLine(force bool) {
	if len(d.pending) == 0 && !force {
		return
	}
	text := string(d.pending)
	if d.state.codePage != nil {
		if decoded, err := d.state.codePage.NewDecoder().Bytes(d.pending); err == nil {
			text = string(decoded)
		}
	}
	d.doc.Blocks = append(d.doc.Blocks, Block{
		Kind:         BlockText,
		Text:         text,
		Align:        d.state.align,
		Bold:         d.state.bold,
		DoubleHeight: d.state.doubleHeight,
		DoubleWidth:  d.state.doubleWidth,
	})
	d.pending = d.pending[:0]
}

func (d *decoder) esc() error {
	if err := d.need(2); err != nil {
		return err
	}
	cmd := d.data[d.pos+1]

	if cmd == '@' {
		d.flushLine(false)
		cp := d.state.codePage
		d.state.reset()
		d.state.codePage = cp
		d.pos += 2
		return nil
	}

	if err := d.need(3); err != nil {
		return err
	}
	n := d.data[d.pos+2]
	d.pos += 3

	switch cmd {
	case 'a':
		d.state.align = [...]string{"left", "center", "right"}[n%3]
	case '!':
		d.state.bold = n&0x08 != 0
		d.state.doubleHeight = n&0x10 != 0
		d.state.doubleWidth = n&0x20 != 0
	case 'E':
		d.state.bold = n&0x01 != 0
	case 't':
		switch n {
		case 0:
			d.state.codePage = charmap.CodePage437
		case 19:
			d.state.codePage = charmap.CodePage858
		default:
			d.state.codePage = nil
		}
	default:
		return fmt.Errorf("unsupported command ESC %q at offset %d", cmd, d.pos-3)
	}
	return nil
}

func (d *decoder) gs() error {
	if err := d.need(2); err != nil {
		return err
	}
	cmd := d.data[d.pos+1]

	switch cmd {
	case '!':
		if err := d.need(3); err != nil {
			return err
		}
		n := d.data[d.pos+2]
		d.state.doubleWidth = n>>4 > 0
		d.state.doubleHeight = n&0x0F > 0
		d.pos += 3
	case 'V':
		if err := d.need(3); err != nil {
			return err
		}
		m := d.data[d.pos+2]
		d.pos += 3
		if m == 65 || m == 66 {
			// function B carries a feed amount
			if err := d.need(1); err != nil {
				return err
			}
			d.pos++
		}
		d.flushLine(false)
		d.doc.Blocks = append(d.doc.Blocks, Block{Kind: BlockCut, FullCut: m == 0 || m == 48 || m == 65})
	case '(':
		return d.qr()
	case 'v':
		return d.raster()
	default:
		return fmt.Errorf("unsupported command GS %q at offset %d", cmd, d.pos)
	}
	return nil
}

// qr handles GS ( k pL pH cn fn [params]
func (d *decoder) qr() error {
	if err := d.need(7); err != nil {
		return err
	}
	if d.data[d.pos+2] != 'k' {
		return fmt.Errorf("unsupported command GS ( %q at offset %d", d.data[d.pos+2], d.pos)
	}
	n := int(d.data[d.pos+3]) + int(d.data[d.pos+4])*256
	start := d.pos + 5
	if err := d.need(5 + n); err != nil {
		return err
	}
	body := d.data[start : start+n]
	d.pos = start + n

	if len(body) < 2 || body[0] != 49 {
		return nil
	}
	switch body[1] {
	case 80:
		if len(body) < 3 {
			return fmt.Errorf("malformed QR store command")
		}
		d.qrData = string(body[3:])
	case 81:
		d.flushLine(false)
		d.doc.Blocks = append(d.doc.Blocks, Block{Kind: BlockQR, QR: d.qrData, Align: d.state.align})
	}
	return nil
}

// raster handles GS v 0 m xL xH yL yH d1...dk
func (d *decoder) raster() error {
	if err := d.need(8); err != nil {
		return err
	}
	if d.data[d.pos+2] != '0' {
		return fmt.Errorf("unsupported raster mode at offset %d", d.pos)
	}
	bytesPerLine := int(d.data[d.pos+4]) + int(d.data[d.pos+5])*256
	height := int(d.data[d.pos+6]) + int(d.data[d.pos+7])*256
	size := bytesPerLine * height
	if err := d.need(8 + size); err != nil {
		return err
	}
	bitmap := d.data[d.pos+8 : d.pos+8+size]
	d.pos += 8 + size

	img := image.NewGray(image.Rect(0, 0, bytesPerLine*8, height))
	for y := 0; y < height; y++ {
		for x := 0; x < bytesPerLine*8; x++ {
			bit := bitmap[y*bytesPerLine+x/8] & (1 << (7 - uint(x%8)))
			if bit != 0 {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	d.flushLine(false)
	d.doc.Blocks = append(d.doc.Blocks, Block{Kind: BlockRaster, Image: img, Align: d.state.align})
	return nil
}
