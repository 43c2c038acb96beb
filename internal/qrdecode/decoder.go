package qrdecode

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoCode means the frame holds no readable QR code. It is expected for
// most frames.
var ErrNoCode = errors.New("no qr code in frame")

type Decoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

func NewDecoder() *Decoder {
	return &Decoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode returns the text of the first QR code found in img.
func (d *Decoder) Decode(img image.Image) (string, error) {
	if img == nil {
		return "", ErrNoCode
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}

	// QRCodeReader keeps per-call state, so each decode gets its own.
	result, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return result.GetText(), nil
}
