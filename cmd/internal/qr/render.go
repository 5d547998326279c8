package qr

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	// DefaultImageSize is the rendered QR edge length in pixels.
	DefaultImageSize = 400

	// ImageMargin is the quiet zone around the symbol, in modules.
	ImageMargin = 2

	dataURIPrefix = "data:image/png;base64,"
)

// RenderPNGDataURI encodes content as a black-on-white QR symbol with medium
// error correction and returns it as a PNG data URI of size×size pixels.
func RenderPNGDataURI(content string, size int) (string, error) {
	if size <= 0 {
		size = DefaultImageSize
	}

	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}
	// The library's built-in border is 4 modules; draw our own quiet zone instead.
	q.DisableBorder = true
	bitmap := q.Bitmap()

	img := renderBitmap(bitmap, size, ImageMargin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// renderBitmap scales a module bitmap (true = dark) into a size×size image with
// margin quiet-zone modules on each side.
func renderBitmap(bitmap [][]bool, size, margin int) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{color.White, color.Black})

	n := len(bitmap)
	total := n + 2*margin
	if n == 0 {
		return img
	}

	for y := 0; y < size; y++ {
		my := y*total/size - margin
		if my < 0 || my >= n {
			continue
		}
		row := bitmap[my]
		for x := 0; x < size; x++ {
			mx := x*total/size - margin
			if mx < 0 || mx >= len(row) {
				continue
			}
			if row[mx] {
				img.SetColorIndex(x, y, 1)
			}
		}
	}
	return img
}
