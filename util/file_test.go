package util

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nhttp "github.com/chaos-io/rembg/util/http"
)

func opaqueImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 50, A: 255})
		}
	}
	return img
}

func TestEncodePNG_AlwaysRGBA(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, opaqueImage(7, 5)))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, pngSignature))
	assert.Equal(t, "IHDR", string(data[12:16]))
	assert.Equal(t, byte(8), data[24], "bit depth")
	assert.Equal(t, byte(colorTypeRGBA), data[25], "colour type")

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	nrgba, ok := decoded.(*image.NRGBA)
	require.True(t, ok, "got %T", decoded)
	assert.Equal(t, image.Pt(7, 5), nrgba.Bounds().Size())
	assert.Equal(t, color.NRGBA{R: 60, G: 40, B: 50, A: 255}, nrgba.NRGBAAt(6, 4))
}

func TestEncodePNG_SubImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	src.SetNRGBA(4, 4, color.NRGBA{R: 1, G: 2, B: 3, A: 4})

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, src.SubImage(image.Rect(4, 4, 8, 6))))

	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), decoded.Bounds())
	assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 4}, decoded.(*image.NRGBA).NRGBAAt(0, 0))
}

func TestSavePNGAndOpenImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.png")
	require.NoError(t, SavePNG(path, opaqueImage(3, 4)))

	img, err := OpenImage(path)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(3, 4), img.Bounds().Size())
}

func TestOpenImage_Errors(t *testing.T) {
	_, err := OpenImage(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(t.TempDir(), "garbage.jpg")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0o644))
	_, err = OpenImage(garbage)
	assert.ErrorContains(t, err, "open image")
}

func TestDownloadImage(t *testing.T) {
	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, opaqueImage(6, 3), nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logo.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(jpg.Bytes())
	}))
	defer srv.Close()

	img, err := DownloadImage(context.Background(), nhttp.NewHTTPClient(), srv.URL+"/logo.jpg")
	require.NoError(t, err)
	assert.Equal(t, image.Pt(6, 3), img.Bounds().Size())

	_, err = LoadImage(context.Background(), srv.URL+"/missing.jpg")
	assert.ErrorContains(t, err, "status 404")
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/a.jpg"))
	assert.True(t, IsURL("http://example.com/a.jpg"))
	assert.False(t, IsURL("/tmp/a.jpg"))
	assert.False(t, IsURL("C:\\dev\\logo.jpg"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
