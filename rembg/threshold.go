package rembg

import (
	"context"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/blur"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/util"
)

const ThresholdModel = "threshold"

// ThresholdRemBG keys out bright pixels with a linear alpha ramp.
//
// brightness is the unweighted mean of R, G and B. Pixels at or below the
// tolerance are left alone, pixels above the cutoff become transparent and
// pixels in between fade from 255 at the tolerance to 0 at the cutoff.
type ThresholdRemBG struct {
	tolerance    float64
	cutoff       float64
	chromaSpread int
	feather      float64
	clear        color.NRGBA
	hasClear     bool
}

func NewThresholdRemBG(cfg config.ThresholdConfig) (*ThresholdRemBG, error) {
	clr, ok, err := cfg.Clear()
	if err != nil {
		return nil, err
	}
	return &ThresholdRemBG{
		tolerance:    cfg.Tolerance,
		cutoff:       cfg.Cutoff,
		chromaSpread: cfg.ChromaSpread,
		feather:      cfg.Feather,
		clear:        clr,
		hasClear:     ok,
	}, nil
}

func (t *ThresholdRemBG) Name() string {
	return ThresholdModel
}

// Remove works on a copy; img is not modified.
func (t *ThresholdRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := util.CloneNRGBA(img)
	t.Apply(dst)
	if t.feather > 0 {
		featherAlpha(dst, t.feather)
	}
	return dst, nil
}

// Apply rewrites the alpha channel of img in place.
func (t *ThresholdRemBG) Apply(img *image.NRGBA) {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+rowLen]
		for i := 0; i < rowLen; i += 4 {
			a, keyed := t.Alpha(row[i], row[i+1], row[i+2])
			if !keyed {
				continue
			}
			// never make a pixel more opaque than it already is
			if a < row[i+3] {
				row[i+3] = a
			}
			if row[i+3] == 0 && t.hasClear {
				row[i], row[i+1], row[i+2] = t.clear.R, t.clear.G, t.clear.B
			}
		}
	}
}

// Alpha returns the ramp alpha for one pixel and whether the pixel counts
// as background at all.
func (t *ThresholdRemBG) Alpha(r, g, b uint8) (uint8, bool) {
	brightness := (float64(r) + float64(g) + float64(b)) / 3
	if brightness <= t.tolerance {
		return 255, false
	}
	if t.chromaSpread > 0 && !neutral(r, g, b, t.chromaSpread) {
		return 255, false
	}
	if brightness > t.cutoff {
		return 0, true
	}

	alpha := int(255 - (brightness-t.tolerance)*255/(t.cutoff-t.tolerance))
	return uint8(min(max(alpha, 0), 255)), true
}

func neutral(r, g, b uint8, spread int) bool {
	return absDiff(r, g) < spread && absDiff(g, b) < spread && absDiff(r, b) < spread
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// featherAlpha blurs the alpha mask to soften the ramp's hard edges. The
// blurred alpha is clamped to the alpha before the blur, so edges only fade
// inward and transparent pixels stay transparent.
func featherAlpha(img *image.NRGBA, radius float64) {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			mask.Pix[y*mask.Stride+x] = img.Pix[y*img.Stride+x*4+3]
		}
	}

	blurred := blur.Gaussian(mask, radius)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := y*img.Stride + x*4 + 3
			img.Pix[i] = min(img.Pix[i], blurred.Pix[y*blurred.Stride+x*4])
		}
	}
}
