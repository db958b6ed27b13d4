package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/samber/lo"
)

// Labels are class names, index-aligned with the model output vector.
type Labels []string

// LoadLabels reads a JSON array of class names.
func LoadLabels(path string) (Labels, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels Labels
	if err := json.Unmarshal(b, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse labels %s: %w", path, err)
	}
	if err := labels.Validate(); err != nil {
		return nil, fmt.Errorf("invalid labels %s: %w", path, err)
	}
	return labels, nil
}

func (l Labels) Validate() error {
	if len(l) == 0 {
		return ErrEmptyLabels
	}
	if lo.Contains(l, "") {
		return errors.New("label list contains an empty name")
	}
	if dups := lo.FindDuplicates(l); len(dups) > 0 {
		return fmt.Errorf("duplicate labels: %s", strings.Join(dups, ", "))
	}
	return nil
}

var filters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"linear":     imaging.Linear,
	"bilinear":   imaging.Linear,
	"catmullrom": imaging.CatmullRom,
	"lanczos":    imaging.Lanczos,
	"box":        imaging.Box,
}

// ParseFilter maps a config name to a resampling filter. The empty name is
// bilinear.
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	if name == "" {
		return imaging.Linear, nil
	}
	f, ok := filters[strings.ToLower(name)]
	if !ok {
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resize filter %q", name)
	}
	return f, nil
}

// DefaultMaxPixels bounds the decoded size of an upload when no budget is
// configured.
const DefaultMaxPixels = 40_000_000

// Decode turns uploaded bytes into an image. The header is checked first and
// images with more than maxPixels pixels are rejected before any pixel buffer
// is allocated. maxPixels <= 0 disables the check. Any failure is a
// *DecodeError.
func Decode(data []byte, maxPixels int) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty upload")}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, &DecodeError{Err: fmt.Errorf("image is %dx%d, exceeds the %d pixel limit", cfg.Width, cfg.Height, maxPixels)}
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}
	return img, nil
}

// Resize scales img to size. An image that already has the target size is
// copied unchanged.
func Resize(img image.Image, size Size, filter imaging.ResampleFilter) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == size.Width && b.Dy() == size.Height {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, size.Width, size.Height, filter)
}

// ToTensor lays out the RGB channels of img as float32 in 0..255. Alpha is
// dropped.
func ToTensor(img *image.NRGBA, layout Layout) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			r, g, bl := float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])
			i := y*w + x
			if layout == NCHW {
				out[i] = r
				out[plane+i] = g
				out[2*plane+i] = bl
			} else {
				out[3*i] = r
				out[3*i+1] = g
				out[3*i+2] = bl
			}
		}
	}
	return out
}
