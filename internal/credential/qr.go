package credential

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QREncoder renders connection links as PNG QR codes
type QREncoder struct {
	Size  int
	Level qrcode.RecoveryLevel
}

func NewQREncoder() *QREncoder {
	return &QREncoder{Size: 512, Level: qrcode.Low}
}

func (e *QREncoder) Encode(uri string) ([]byte, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty uri")
	}
	png, err := qrcode.Encode(uri, e.Level, e.Size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
