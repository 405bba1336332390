// Package qrimage renders code payloads as PNG images.
package qrimage

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 300

type Renderer struct {
	size  int
	level qrcode.RecoveryLevel
}

// New renderer with image side 'size' in pixels, default is used if size is not positive
func New(size int) *Renderer {
	if size <= 0 {
		size = defaultSize
	}
	return &Renderer{size: size, level: qrcode.Medium}
}

func (r *Renderer) Render(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, r.level, r.size)
	if err != nil {
		return nil, fmt.Errorf("error while rendering code image. Err: %w", err)
	}
	return png, nil
}
