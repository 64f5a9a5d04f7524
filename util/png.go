package util

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const colorTypeRGBA = 6

// EncodePNG writes img as an 8-bit RGBA PNG (colour type 6).
//
// image/png drops the alpha channel when every pixel is opaque, but callers
// downstream expect an alpha channel in every output file.
func EncodePNG(w io.Writer, img image.Image) error {
	src := ToNRGBA(img)
	b := src.Bounds()

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(pngSignature); err != nil {
		return err
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(b.Dy()))
	ihdr[8] = 8 // bit depth
	ihdr[9] = colorTypeRGBA
	if err := writeChunk(bw, "IHDR", ihdr); err != nil {
		return err
	}

	var idat bytes.Buffer
	zw := zlib.NewWriter(&idat)
	rowLen := b.Dx() * 4
	filter := []byte{0} // no filtering
	for y := 0; y < b.Dy(); y++ {
		if _, err := zw.Write(filter); err != nil {
			return err
		}
		off := y * src.Stride
		if _, err := zw.Write(src.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := writeChunk(bw, "IDAT", idat.Bytes()); err != nil {
		return err
	}
	if err := writeChunk(bw, "IEND", nil); err != nil {
		return err
	}
	return bw.Flush()
}

func writeChunk(w io.Writer, name string, data []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], name)

	crc := crc32.NewIEEE()
	_, _ = crc.Write(header[4:8])
	_, _ = crc.Write(data)

	var footer [4]byte
	binary.BigEndian.PutUint32(footer[:], crc.Sum32())

	for _, p := range [][]byte{header[:], data, footer[:]} {
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// ToNRGBA returns img as *image.NRGBA with its origin at (0,0).
// An NRGBA already at the origin is returned as is.
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(img)
}

// CloneNRGBA is ToNRGBA that never aliases img.
func CloneNRGBA(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}
