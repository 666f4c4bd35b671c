// Package escpos converts text and printer commands into ESC/POS byte streams
package escpos

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ESC/POS control bytes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Print mode bits for ESC ! n
const (
	ModeNormal       byte = 0x00
	ModeBold         byte = 0x08
	ModeDoubleHeight byte = 0x10
	ModeDoubleWidth  byte = 0x20
	ModeUnderline    byte = 0x80
)

// Fixed command sequences interleaved with text by the composer
var (
	Initialize       = []byte{ESC, '@'}
	TextNormal       = []byte{ESC, '!', ModeNormal}
	TextBold         = []byte{ESC, '!', ModeBold}
	TextDoubleHeight = []byte{ESC, '!', ModeBold | ModeDoubleHeight}
	TextDouble       = []byte{ESC, '!', ModeBold | ModeDoubleHeight | ModeDoubleWidth}
	TextLeft         = []byte{ESC, 'a', 0}
	TextCentered     = []byte{ESC, 'a', 1}
	TextRight        = []byte{ESC, 'a', 2}
	CutPaper         = []byte{GS, 'V', 1}
	FullCut          = []byte{GS, 'V', 0}
)

// TextToBytes encodes text as UTF-8 bytes for the printer
func TextToBytes(text string) []byte {
	return []byte(text)
}

// CodePage selects the character table used for text
type CodePage int

const (
	CodePageUTF8 CodePage = iota
	CodePage437
	CodePage858
)

func (c CodePage) String() string {
	return []string{"utf8", "cp437", "cp858"}[c]
}

// ParseCodePage maps a config value to a CodePage
func ParseCodePage(name string) (CodePage, error) {
	switch name {
	case "", "utf8", "utf-8":
		return CodePageUTF8, nil
	case "cp437", "437":
		return CodePage437, nil
	case "cp858", "858":
		return CodePage858, nil
	default:
		return CodePageUTF8, fmt.Errorf("unsupported code page: %s", name)
	}
}

// selectCommand returns the ESC t n sequence for the page, nil for UTF-8
func (c CodePage) selectCommand() []byte {
	switch c {
	case CodePage437:
		return []byte{ESC, 't', 0}
	case CodePage858:
		return []byte{ESC, 't', 19}
	default:
		return nil
	}
}

// EncodeText converts text into the byte representation of the code page.
// Characters missing from a legacy page are replaced with the page's
// substitute byte.
func EncodeText(text string, cp CodePage) []byte {
	var cm *charmap.Charmap
	switch cp {
	case CodePage437:
		cm = charmap.CodePage437
	case CodePage858:
		cm = charmap.CodePage858
	default:
		return TextToBytes(text)
	}

	out, err := encoding.ReplaceUnsupported(cm.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		return TextToBytes(text)
	}
	return out
}
