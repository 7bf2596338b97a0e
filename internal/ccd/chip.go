package ccd

import (
	"fmt"

	"github.com/cjeanneret/gphotoccd/internal/imaging"
)

// Chip is the primary CCD chip: requested geometry plus the frame buffer
// the camera writes into.
type Chip struct {
	xRes, yRes     int
	subX, subY     int
	subW, subH     int
	binX, binY     int
	bpp            int
	pixelW, pixelH float64
	naxis          int
	ext            string
	buf            []byte
}

// NewChip creates a chip with the given sensor parameters.
func NewChip(width, height, bpp int, pixelSize float64) *Chip {
	c := &Chip{binX: 1, binY: 1, naxis: 2}
	c.SetParams(width, height, bpp, pixelSize, pixelSize)
	return c
}

// SetParams resets the sensor geometry to full frame.
func (c *Chip) SetParams(width, height, bpp int, pixelW, pixelH float64) {
	c.xRes, c.yRes = width, height
	c.subX, c.subY, c.subW, c.subH = 0, 0, width, height
	c.bpp = bpp
	c.pixelW, c.pixelH = pixelW, pixelH
	c.SetFrameBufferSize(c.subW / c.binX * c.subH / c.binY * c.bpp / 8)
}

// SetBin sets the binning factors.
func (c *Chip) SetBin(x, y int) error {
	if x < 1 || y < 1 || x > c.subW || y > c.subH {
		return fmt.Errorf("invalid binning %dx%d", x, y)
	}
	c.binX, c.binY = x, y
	return nil
}

// Bin returns the binning factors.
func (c *Chip) Bin() (x, y int) { return c.binX, c.binY }

func (c *Chip) SetFrame(x, y, w, h int) {
	c.subX, c.subY, c.subW, c.subH = x, y, w, h
}

func (c *Chip) SetResolution(w, h int) {
	c.xRes, c.yRes = w, h
}

func (c *Chip) SetNAxis(n int)             { c.naxis = n }
func (c *Chip) SetBPP(bpp int)             { c.bpp = bpp }
func (c *Chip) SetImageExtension(e string) { c.ext = e }

// SetFrameBufferSize resizes the buffer, reusing its storage when it fits.
func (c *Chip) SetFrameBufferSize(n int) {
	if cap(c.buf) >= n {
		c.buf = c.buf[:n]
		return
	}
	c.buf = make([]byte, n)
}

func (c *Chip) FrameBuffer() []byte { return c.buf }

func (c *Chip) SubX() int { return c.subX }
func (c *Chip) SubY() int { return c.subY }
func (c *Chip) SubW() int { return c.subW }
func (c *Chip) SubH() int { return c.subH }
func (c *Chip) BinX() int { return c.binX }
func (c *Chip) BinY() int { return c.binY }
func (c *Chip) BPP() int  { return c.bpp }

func (c *Chip) XRes() int              { return c.xRes }
func (c *Chip) YRes() int              { return c.yRes }
func (c *Chip) NAxis() int             { return c.naxis }
func (c *Chip) ImageExtension() string { return c.ext }

// PixelSize returns the pixel pitch in microns.
func (c *Chip) PixelSize() (w, h float64) { return c.pixelW, c.pixelH }

// Frame copies the current buffer out, with the binned frame geometry.
func (c *Chip) Frame() imaging.Frame {
	return imaging.Frame{
		Width:  c.subW / c.binX,
		Height: c.subH / c.binY,
		NAxis:  c.naxis,
		BPP:    c.bpp,
		Data:   append([]byte(nil), c.buf...),
	}
}
