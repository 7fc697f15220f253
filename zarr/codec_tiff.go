package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"

	"golang.org/x/image/tiff"
)

// TIFFCodec is a decode-only codec for single-band TIFF-encoded chunks
// (spec §4.2 TIFF). The original GDAL driver implements this by spinning
// up a nested GDAL dataset over an in-memory file; that machinery has no
// Go equivalent in this corpus, so decoding instead goes through
// golang.org/x/image/tiff and a type switch over the returned image.Image.
// It accepts 8-bit and 16-bit gray images, and 8-bit NRGBA images, of
// which only the red channel is copied out; any other decoded image type
// (including 32-bit integer and float samples) is rejected with
// ErrUnsupported.
type TIFFCodec struct{}

func (c *TIFFCodec) Name() string { return "tiff" }

func (c *TIFFCodec) Clone() Codec { return c }

func (c *TIFFCodec) Encode(input []byte, _ ArrayMeta) ([]byte, error) {
	return nil, fmt.Errorf("%w: tiff codec is decode-only", ErrUnsupported)
}

func (c *TIFFCodec) Decode(input []byte, meta ArrayMeta) ([]byte, error) {
	img, err := tiff.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: tiff: %v", ErrFormat, err)
	}

	elementSize := meta.DType.ElementSize()
	n := int(meta.ElementCount())
	out := make([]byte, n*elementSize)
	order := meta.DType.byteOrder()

	switch src := img.(type) {
	case *image.Gray:
		if elementSize != 1 {
			return nil, fmt.Errorf("%w: tiff decoded 8-bit gray but array dtype element size is %d", ErrFormat, elementSize)
		}
		copyGrayPlane(out, src, n)
	case *image.Gray16:
		if elementSize != 2 {
			return nil, fmt.Errorf("%w: tiff decoded 16-bit gray but array dtype element size is %d", ErrFormat, elementSize)
		}
		copyGray16Plane(out, src, n, order)
	case *image.NRGBA:
		// Some encoders emit a single band as an RGBA plane with all
		// channels equal; take the red channel only.
		if elementSize != 1 {
			return nil, fmt.Errorf("%w: tiff decoded 8-bit RGBA but array dtype element size is %d", ErrFormat, elementSize)
		}
		copyNRGBARedPlane(out, src, n)
	default:
		return nil, fmt.Errorf("%w: unsupported decoded tiff image type %T", ErrUnsupported, img)
	}
	return out, nil
}

func copyGrayPlane(out []byte, img *image.Gray, n int) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y && i < n; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx() && i < n; x++ {
			out[i] = row[x]
			i++
		}
	}
}

func copyGray16Plane(out []byte, img *image.Gray16, n int, order binary.ByteOrder) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y && i < n; y++ {
		rowOff := (y - b.Min.Y) * img.Stride
		for x := 0; x < b.Dx() && i < n; x++ {
			v := uint16(img.Pix[rowOff+x*2])<<8 | uint16(img.Pix[rowOff+x*2+1])
			order.PutUint16(out[i*2:], v)
			i++
		}
	}
}

func copyNRGBARedPlane(out []byte, img *image.NRGBA, n int) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y && i < n; y++ {
		rowOff := (y - b.Min.Y) * img.Stride
		for x := 0; x < b.Dx() && i < n; x++ {
			out[i] = img.Pix[rowOff+x*4]
			i++
		}
	}
}
