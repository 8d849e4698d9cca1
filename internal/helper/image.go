package helper

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const maxImageWidth = 1600

// NormalizeImage downscales oversized JPEG/PNG payloads before they are sent
// as media. Other image formats are passed through untouched.
func NormalizeImage(data []byte, mimetype string) ([]byte, error) {
	var format imaging.Format
	switch mimetype {
	case "image/jpeg", "image/jpg":
		format = imaging.JPEG
	case "image/png":
		format = imaging.PNG
	default:
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if img.Bounds().Dx() <= maxImageWidth {
		return data, nil
	}

	resized := imaging.Resize(img, maxImageWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
