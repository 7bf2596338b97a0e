// Package imaging decodes captured files into planar pixel channels and
// encodes frames as FITS.
package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/tiff"
)

// ErrDecode wraps every decoder failure.
var ErrDecode = errors.New("image decode failed")

// Channel is one colour plane, row-major. 16-bit samples are little endian.
type Channel struct {
	Tag  string
	Data []byte
}

// Image is a decoded capture.
type Image struct {
	Width    int
	Height   int
	BitDepth int
	Channels []Channel
}

// Size returns the summed byte length of every channel.
func (img *Image) Size() int {
	n := 0
	for _, c := range img.Channels {
		n += len(c.Data)
	}
	return n
}

// Bin averages bx by by blocks of pixels in every channel. Trailing rows and
// columns that do not fill a block are dropped.
func (img *Image) Bin(bx, by int) *Image {
	if bx < 1 {
		bx = 1
	}
	if by < 1 {
		by = 1
	}
	if bx == 1 && by == 1 {
		return img
	}
	w, h := img.Width/bx, img.Height/by
	sample := img.BitDepth / 8
	out := &Image{Width: w, Height: h, BitDepth: img.BitDepth}
	for _, c := range img.Channels {
		data := make([]byte, w*h*sample)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var sum uint32
				for dy := 0; dy < by; dy++ {
					row := (y*by + dy) * img.Width
					for dx := 0; dx < bx; dx++ {
						i := row + x*bx + dx
						if sample == 2 {
							sum += uint32(binary.LittleEndian.Uint16(c.Data[2*i:]))
						} else {
							sum += uint32(c.Data[i])
						}
					}
				}
				v := sum / uint32(bx*by)
				o := y*w + x
				if sample == 2 {
					binary.LittleEndian.PutUint16(data[2*o:], uint16(v))
				} else {
					data[o] = byte(v)
				}
			}
		}
		out.Channels = append(out.Channels, Channel{Tag: c.Tag, Data: data})
	}
	return out
}

// Decoder turns the bytes of a captured file into an Image.
type Decoder interface {
	Decode(data []byte, name string) (*Image, error)
}

// JPEGDecoder decodes camera JPEGs into 8-bit planes.
type JPEGDecoder struct{}

func (JPEGDecoder) Decode(data []byte, name string) (*Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}
	return planar(img), nil
}

// RAWDecoder decodes TIFF-container files, keeping 16-bit depth when present.
// Only the first image directory is read, and only uncompressed, deflate or
// LZW strips are understood. That covers TIFF and uncompressed DNG. In NEF
// and CR2 files IFD0 holds a reduced preview (or vendor-compressed sensor
// data, which fails to decode), so the frame is that preview rather than the
// sensor readout; select a JPEG or TIFF capture format for full-size frames.
type RAWDecoder struct{}

func (RAWDecoder) Decode(data []byte, name string) (*Image, error) {
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}
	return planar(img), nil
}

func planar(img image.Image) *Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &Image{Width: w, Height: h}

	switch img.ColorModel() {
	case color.GrayModel:
		out.BitDepth = 8
		plane := make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				plane = append(plane, color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			}
		}
		out.Channels = []Channel{{Tag: "Y", Data: plane}}

	case color.Gray16Model:
		out.BitDepth = 16
		plane := make([]byte, w*h*2)
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				binary.LittleEndian.PutUint16(plane[i:], color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
				i += 2
			}
		}
		out.Channels = []Channel{{Tag: "Y", Data: plane}}

	case color.RGBA64Model, color.NRGBA64Model:
		out.BitDepth = 16
		r, g, bl := make([]byte, w*h*2), make([]byte, w*h*2), make([]byte, w*h*2)
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				cr, cg, cb, _ := img.At(x, y).RGBA()
				binary.LittleEndian.PutUint16(r[i:], uint16(cr))
				binary.LittleEndian.PutUint16(g[i:], uint16(cg))
				binary.LittleEndian.PutUint16(bl[i:], uint16(cb))
				i += 2
			}
		}
		out.Channels = []Channel{{Tag: "R", Data: r}, {Tag: "G", Data: g}, {Tag: "B", Data: bl}}

	default:
		out.BitDepth = 8
		r, g, bl := make([]byte, 0, w*h), make([]byte, 0, w*h), make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				cr, cg, cb, _ := img.At(x, y).RGBA()
				r = append(r, byte(cr>>8))
				g = append(g, byte(cg>>8))
				bl = append(bl, byte(cb>>8))
			}
		}
		out.Channels = []Channel{{Tag: "R", Data: r}, {Tag: "G", Data: g}, {Tag: "B", Data: bl}}
	}
	return out
}
