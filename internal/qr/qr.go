// Package qr renders session payload URLs as scannable PNG images.
package qr

import (
	qrcode "github.com/skip2/go-qrcode"
)

// PNG encodes the payload URL as a QR image. Medium error correction keeps
// codes scannable on projected screens.
func PNG(url string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(url, qrcode.Medium, size)
}
