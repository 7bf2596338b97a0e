package imaging

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"
)

// Frame is a planar frame buffer as filled by the ingestion path.
type Frame struct {
	Width  int
	Height int
	NAxis  int // 2 for mono, 3 for three colour planes
	BPP    int // 8 or 16
	Data   []byte
}

// Metadata goes into the primary header.
type Metadata struct {
	Instrument string
	Exposure   time.Duration
	ISO        string
	Format     string
	Start      time.Time
}

func (m Metadata) cards() []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "EXPTIME", Value: m.Exposure.Seconds(), Comment: "Total Exposure Time (s)"},
	}
	if m.Instrument != "" {
		cards = append(cards, fitsio.Card{Name: "INSTRUME", Value: m.Instrument, Comment: "CCD Name"})
	}
	if !m.Start.IsZero() {
		cards = append(cards, fitsio.Card{Name: "DATE-OBS", Value: m.Start.UTC().Format("2006-01-02T15:04:05.000"), Comment: "UTC start date of observation"})
	}
	if m.ISO != "" {
		cards = append(cards, fitsio.Card{Name: "ISOSPEED", Value: m.ISO, Comment: "Camera ISO"})
	}
	if m.Format != "" {
		cards = append(cards, fitsio.Card{Name: "CAPFMT", Value: m.Format, Comment: "Camera capture format"})
	}
	return cards
}

// WriteFITS encodes f as a single primary image HDU.
func WriteFITS(w io.Writer, f Frame, meta Metadata) error {
	planes := 1
	if f.NAxis == 3 {
		planes = 3
	}
	n := f.Width * f.Height * planes
	if n == 0 {
		return fmt.Errorf("empty frame %dx%d", f.Width, f.Height)
	}
	axes := []int{f.Width, f.Height}
	if planes == 3 {
		axes = append(axes, 3)
	}

	cards := meta.cards()
	var data interface{}
	switch f.BPP {
	case 8:
		if len(f.Data) < n {
			return fmt.Errorf("frame buffer holds %d bytes, need %d", len(f.Data), n)
		}
		data = f.Data[:n]
	case 16:
		if len(f.Data) < 2*n {
			return fmt.Errorf("frame buffer holds %d bytes, need %d", len(f.Data), 2*n)
		}
		// FITS has no unsigned 16-bit type: store v-32768 and declare BZERO.
		pix := make([]int16, n)
		for i := range pix {
			pix[i] = int16(int32(binary.LittleEndian.Uint16(f.Data[2*i:])) - 32768)
		}
		data = pix
		cards = append(cards,
			fitsio.Card{Name: "BZERO", Value: 32768, Comment: "offset data range to that of unsigned short"},
			fitsio.Card{Name: "BSCALE", Value: 1, Comment: "default scaling factor"},
		)
	default:
		return fmt.Errorf("unsupported bit depth %d", f.BPP)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("create fits: %w", err)
	}
	img := fitsio.NewImage(f.BPP, axes)
	defer img.Close()

	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("fits header: %w", err)
	}
	if err := img.Write(data); err != nil {
		return fmt.Errorf("fits data: %w", err)
	}
	if err := fits.Write(img); err != nil {
		return fmt.Errorf("fits write: %w", err)
	}
	return fits.Close()
}
