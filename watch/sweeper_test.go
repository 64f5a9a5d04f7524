package watch

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/rembg"
	"github.com/chaos-io/rembg/util"
)

func newSweeper(t *testing.T) (*Sweeper, string, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Watch.Inbox = filepath.Join(root, "inbox")
	cfg.Watch.Outbox = filepath.Join(root, "outbox")
	cfg.Watch.Schedule = "@every 1h"
	require.NoError(t, os.MkdirAll(cfg.Watch.Inbox, 0o755))

	threshold, err := rembg.NewThresholdRemBG(cfg.Threshold)
	require.NoError(t, err)
	return NewSweeper(rembg.NewChain(nil, threshold), cfg.Watch), cfg.Watch.Inbox, cfg.Watch.Outbox
}

func whiteImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestSweeper_Sweep(t *testing.T) {
	s, inbox, outbox := newSweeper(t)

	require.NoError(t, util.SavePNG(filepath.Join(inbox, "a.png"), whiteImage(4, 4)))
	require.NoError(t, util.SavePNG(filepath.Join(inbox, "b.PNG"), whiteImage(2, 3)))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "broken.jpg"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(inbox, "sub.png"), 0o755))

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 2, Failed: 1}, stats)

	out, err := util.OpenImage(filepath.Join(outbox, "b.png"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(2, 3), out.Bounds().Size())
	_, _, _, a := out.At(0, 0).RGBA()
	assert.Zero(t, a)

	stats, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 2, Failed: 1}, stats, "fresh outputs are not redone")
}

func TestSweeper_StemCollision(t *testing.T) {
	s, inbox, outbox := newSweeper(t)

	first := s.outputFor(filepath.Join(inbox, "logo.png"))
	second := s.outputFor(filepath.Join(inbox, "logo.jpg"))
	assert.Equal(t, filepath.Join(outbox, "logo.png"), first)
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, s.outputFor(filepath.Join(inbox, "logo.jpg")), "names are stable per source")
}

func TestSweeper_MissingInbox(t *testing.T) {
	s, inbox, _ := newSweeper(t)
	require.NoError(t, os.RemoveAll(inbox))

	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSweeper_Run(t *testing.T) {
	s, inbox, outbox := newSweeper(t)
	img := whiteImage(3, 3)
	img.SetNRGBA(1, 1, color.NRGBA{A: 255})
	require.NoError(t, util.SavePNG(filepath.Join(inbox, "c.png"), img))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	_, err := os.Stat(filepath.Join(outbox, "c.png"))
	assert.NoError(t, err)
}

func TestSweeper_RunBadSchedule(t *testing.T) {
	s, _, _ := newSweeper(t)
	s.schedule = "every now and then"
	assert.ErrorContains(t, s.Run(context.Background()), "schedule")
}
