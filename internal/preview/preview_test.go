package preview

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/pos-printer/internal/escpos"
)

func sampleStream(t *testing.T) []byte {
	t.Helper()

	e := escpos.NewEncoder()
	e.Initialize()
	e.SetAlignment("center")
	e.Raw(escpos.TextDouble)
	e.Line("Cafe")
	e.Raw(escpos.TextNormal)
	e.SetAlignment("left")
	e.Line("Order: #12")
	require.NoError(t, e.QRCode("upi://pay?pa=cafe@upi", escpos.QROptions{}))
	e.LineFeed()

	img := image.NewGray(image.Rect(0, 0, 16, 4))
	for x := 0; x < 16; x++ {
		img.SetGray(x, 0, color.Gray{Y: 0})
		img.SetGray(x, 1, color.Gray{Y: 255})
		img.SetGray(x, 2, color.Gray{Y: 255})
		img.SetGray(x, 3, color.Gray{Y: 255})
	}
	require.NoError(t, e.PrintImage(img))
	e.Cut()
	return e.Bytes()
}

func TestDecode(t *testing.T) {
	doc, err := Decode(sampleStream(t))
	require.NoError(t, err)

	lines := doc.Lines()
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "Cafe", lines[0])
	assert.Equal(t, "Order: #12", lines[1])

	first := doc.Blocks[0]
	assert.Equal(t, "center", first.Align)
	assert.True(t, first.Bold)
	assert.True(t, first.DoubleHeight)
	assert.True(t, first.DoubleWidth)

	second := doc.Blocks[1]
	assert.Equal(t, "left", second.Align)
	assert.False(t, second.Bold)

	assert.Equal(t, []string{"upi://pay?pa=cafe@upi"}, doc.QRPayloads())
	assert.Equal(t, 1, doc.Count(BlockRaster))
	assert.Equal(t, 1, doc.Count(BlockCut))

	for _, b := range doc.Blocks {
		if b.Kind == BlockRaster {
			assert.Equal(t, 16, b.Image.Bounds().Dx())
			assert.Equal(t, uint8(0), b.Image.GrayAt(3, 0).Y)
			assert.Equal(t, uint8(255), b.Image.GrayAt(3, 1).Y)
		}
		if b.Kind == BlockCut {
			assert.False(t, b.FullCut)
		}
	}
}

func TestDecodeCodePage(t *testing.T) {
	e := escpos.NewEncoder()
	e.SetCodePage(escpos.CodePage858)
	e.Line("Total €5")

	doc, err := Decode(e.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"Total €5"}, doc.Lines())
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, err := Decode([]byte{escpos.GS, '(', 'k', 10, 0, 49})
	assert.Error(t, err)

	_, err = Decode([]byte{escpos.ESC, 'Z', 1})
	assert.Error(t, err)
}

func TestRenderPNG(t *testing.T) {
	data, err := RenderPNG(sampleStream(t), escpos.Dots58mm, 32)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, escpos.Dots58mm+2*margin, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 100)
}
