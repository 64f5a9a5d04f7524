package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/util"
	nhttp "github.com/chaos-io/rembg/util/http"
)

// ErrUnavailable marks a remover that cannot run at all, as opposed to one
// that ran and failed. Only this error makes a Chain fall back.
var ErrUnavailable = errors.New("remover unavailable")

type Remover interface {
	Name() string
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// Prober is implemented by removers that depend on something external.
type Prober interface {
	Available(ctx context.Context) error
}

type Result struct {
	Image  *image.NRGBA
	Method string
	// Subject is the bounding box of the mostly opaque pixels, empty when
	// nothing survived.
	Subject image.Rectangle
}

// Chain runs Primary and falls back to Fallback when Primary is unavailable.
// Errors from a remover that did run are returned as is.
type Chain struct {
	Primary  Remover
	Fallback Remover
}

func NewChain(primary, fallback Remover) *Chain {
	return &Chain{Primary: primary, Fallback: fallback}
}

// NewChainFromConfig builds the BiRefNet -> threshold chain.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	threshold, err := NewThresholdRemBG(cfg.Threshold)
	if err != nil {
		return nil, err
	}
	model := NewBiRefNetRemBG(cfg.Model, nhttp.NewHTTPClient())
	return NewChain(model, threshold), nil
}

func (c *Chain) Remove(ctx context.Context, img image.Image) (*Result, error) {
	if c.Primary != nil {
		err := c.PrimaryAvailable(ctx)
		if err == nil {
			out, err := c.Primary.Remove(ctx, img)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", c.Primary.Name(), err)
			}
			return newResult(out, c.Primary.Name()), nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		slog.Warn("background model unavailable, falling back", "model", c.Primary.Name(), "err", err)
	}

	if c.Fallback == nil {
		return nil, fmt.Errorf("no fallback configured: %w", ErrUnavailable)
	}
	out, err := c.Fallback.Remove(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Fallback.Name(), err)
	}
	return newResult(out, c.Fallback.Name()), nil
}

// PrimaryAvailable probes Primary. Removers without a probe are always
// available.
func (c *Chain) PrimaryAvailable(ctx context.Context) error {
	if c.Primary == nil {
		return fmt.Errorf("no primary configured: %w", ErrUnavailable)
	}
	if p, ok := c.Primary.(Prober); ok {
		return p.Available(ctx)
	}
	return nil
}

// RemoveFile loads src (path or http(s) URL), removes the background and
// writes a PNG to dst.
func RemoveFile(ctx context.Context, chain *Chain, src, dst string) (*Result, error) {
	img, err := util.LoadImage(ctx, src)
	if err != nil {
		return nil, err
	}

	res, err := chain.Remove(ctx, img)
	if err != nil {
		return nil, err
	}

	if err := util.SavePNG(dst, res.Image); err != nil {
		return nil, err
	}
	slog.Debug("saved output", "path", dst, "method", res.Method, "subject", res.Subject)
	return res, nil
}

func newResult(img image.Image, method string) *Result {
	out := util.ToNRGBA(img)
	return &Result{
		Image:   out,
		Method:  method,
		Subject: alphaBBox(out, 0.8),
	}
}
