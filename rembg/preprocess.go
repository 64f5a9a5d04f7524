package rembg

import (
	"image"

	"github.com/nfnt/resize"

	"github.com/chaos-io/rembg/util"
)

// hasUsefulAlpha 检查 alpha 通道是否真的包含透明信息
func hasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// resizeWithinMax 缩放（最长边 <= maxSize）
func resizeWithinMax(img *image.NRGBA, maxSize int) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if maxSize <= 0 || longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))
	return resizeTo(img, newW, newH)
}

func resizeTo(img image.Image, w, h int) *image.NRGBA {
	return util.ToNRGBA(resize.Resize(uint(w), uint(h), img, resize.Lanczos3))
}

// alphaBBox 从 alpha 通道计算主体 bounding box
// 把 alpha > threshold * 255 的像素当作主体, 没有这样的像素时返回空矩形
func alphaBBox(img *image.NRGBA, threshold float64) image.Rectangle {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] <= th {
				continue
			}
			found = true
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}

	if !found {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1).Add(b.Min)
}
