// Package photo decodes and normalizes the images clients upload as
// base64 data URLs.
package photo

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
)

// MaxSide is the longest edge, in pixels, kept after normalization.
const MaxSide = 1024

// MaxPixels bounds width*height of an accepted upload. Decoding allocates
// the full bitmap, so the limit is checked against the header first.
const MaxPixels = 40_000_000

// Image is raw image bytes with their MIME type.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL renders the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Base64 returns the standard base64 encoding of the bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURL accepts "data:image/png;base64,...." or bare base64, which is
// assumed to be JPEG.
func ParseDataURL(s string) (Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Image{}, apperr.Invalid("image is empty")
	}
	mime := "image/jpeg"
	payload := s
	if strings.HasPrefix(s, "data:") {
		head, body, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(head, ";base64") {
			return Image{}, apperr.Invalid("image must be a base64 data URL")
		}
		mime = strings.TrimSuffix(strings.TrimPrefix(head, "data:"), ";base64")
		payload = body
	}
	if !strings.HasPrefix(mime, "image/") {
		return Image{}, apperr.Invalid(fmt.Sprintf("unsupported media type %q", mime))
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, apperr.Invalid("image is not valid base64")
	}
	return Image{MIMEType: mime, Data: data}, nil
}

// Normalize decodes img, applies EXIF orientation, shrinks it so neither
// side exceeds MaxSide and re-encodes it as JPEG. Images already within
// bounds are still re-encoded so every stored photo has the same format.
func Normalize(img Image) (Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return Image{}, apperr.Invalid("image could not be decoded")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Image{}, apperr.Invalid(fmt.Sprintf("image is %dx%d, at most %d pixels are accepted", cfg.Width, cfg.Height, MaxPixels))
	}
	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, apperr.Invalid("image could not be decoded")
	}
	b := src.Bounds()
	var out image.Image = src
	if b.Dx() > MaxSide || b.Dy() > MaxSide {
		out = imaging.Fit(src, MaxSide, MaxSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(jpeg.DefaultQuality)); err != nil {
		return Image{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Image{MIMEType: "image/jpeg", Data: buf.Bytes()}, nil
}
