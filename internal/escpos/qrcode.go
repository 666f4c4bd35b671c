package escpos

import (
	"errors"
	"fmt"
)

// QRErrorCorrection is the error correction level of a QR symbol
type QRErrorCorrection byte

const (
	QRLevelL QRErrorCorrection = 48
	QRLevelM QRErrorCorrection = 49
	QRLevelQ QRErrorCorrection = 50
	QRLevelH QRErrorCorrection = 51
)

// QRMaxPayload is the largest payload, in bytes, a model 2 symbol can hold
const QRMaxPayload = 7089

var ErrQRPayloadTooLarge = errors.New("qr payload too large")

// QROptions configures native QR printing
type QROptions struct {
	ModuleSize int // 1..16 dots per module
	Level      QRErrorCorrection
}

// ParseQRLevel maps "L", "M", "Q", "H" to a level, defaulting to M
func ParseQRLevel(level string) QRErrorCorrection {
	switch level {
	case "L", "l":
		return QRLevelL
	case "Q", "q":
		return QRLevelQ
	case "H", "h":
		return QRLevelH
	default:
		return QRLevelM
	}
}

// QRCode builds the GS ( k sequence that stores and prints a QR symbol.
// The store-data length field (pL + pH*256) is len(payload)+3: the payload
// plus the cn, fn and m bytes that follow it. Payloads over QRMaxPayload
// bytes are rejected.
func QRCode(payload string, opts QROptions) ([]byte, error) {
	data := TextToBytes(payload)
	if len(data) > QRMaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrQRPayloadTooLarge, len(data), QRMaxPayload)
	}

	size := opts.ModuleSize
	if size < 1 {
		size = 6
	}
	if size > 16 {
		size = 16
	}
	level := opts.Level
	if level < QRLevelL || level > QRLevelH {
		level = QRLevelM
	}

	n := len(data) + 3

	out := make([]byte, 0, len(data)+34)
	// Model 2
	out = append(out, GS, '(', 'k', 4, 0, 49, 65, 50, 0)
	// Module size
	out = append(out, GS, '(', 'k', 3, 0, 49, 67, byte(size))
	// Error correction
	out = append(out, GS, '(', 'k', 3, 0, 49, 69, byte(level))
	// Store data
	out = append(out, GS, '(', 'k', byte(n%256), byte(n/256), 49, 80, 48)
	out = append(out, data...)
	// Print symbol
	out = append(out, GS, '(', 'k', 3, 0, 49, 81, 48)

	return out, nil
}
