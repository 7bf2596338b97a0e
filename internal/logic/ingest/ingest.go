// Package ingest moves a finished capture from the camera into a frame sink.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/debug"
	"github.com/cjeanneret/gphotoccd/internal/hw/gphoto"
	"github.com/cjeanneret/gphotoccd/internal/imaging"
)

var log = debug.Module("ingest")

// ImageExtension is the output format tag set on the sink.
const ImageExtension = "fits"

// DefaultTimeout bounds the wait for the captured file.
const DefaultTimeout = 30 * time.Second

// FrameSink receives the decoded frame.
type FrameSink interface {
	SetFrame(x, y, w, h int)
	SetResolution(w, h int)
	SetNAxis(n int)
	SetBPP(bpp int)
	SetFrameBufferSize(n int)
	FrameBuffer() []byte
	SetImageExtension(ext string)
}

// Binner is implemented by sinks asking for software binning.
type Binner interface {
	Bin() (x, y int)
}

// Ingester waits for a capture, decodes it and fills a sink.
type Ingester struct {
	JPEG    imaging.Decoder
	RAW     imaging.Decoder
	Timeout time.Duration
}

// New returns an Ingester with the stock decoders.
func New(timeout time.Duration) *Ingester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ingester{JPEG: imaging.JPEGDecoder{}, RAW: imaging.RAWDecoder{}, Timeout: timeout}
}

// DecoderFor picks a decoder from the file extension.
func (in *Ingester) DecoderFor(name string) imaging.Decoder {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "jpg", "jpeg":
		return in.JPEG
	default:
		return in.RAW
	}
}

// Ingest blocks until the shot's file arrives (bounded by Timeout), decodes
// it and writes it into sink. The sink is left untouched on any error.
func (in *Ingester) Ingest(ctx context.Context, shot gphoto.Shot, sink FrameSink) error {
	ctx, cancel := context.WithTimeout(ctx, in.Timeout)
	defer cancel()

	file, err := shot.File(ctx)
	if err != nil {
		return fmt.Errorf("retrieve capture: %w", err)
	}
	if file == nil {
		return fmt.Errorf("retrieve capture: %w", gphoto.ErrTransferStall)
	}
	log.Verbose("received %s (%d bytes)", file.Name, len(file.Data))

	img, err := in.DecoderFor(file.Name).Decode(file.Data, file.Name)
	if err != nil {
		return err
	}

	fullW, fullH := img.Width, img.Height
	if b, ok := sink.(Binner); ok {
		if bx, by := b.Bin(); bx > 1 || by > 1 {
			img = img.Bin(bx, by)
			log.Verbose("binned %dx%d to %dx%d", fullW, fullH, img.Width, img.Height)
		}
	}

	naxis := 2
	if len(img.Channels) == 3 {
		naxis = 3
	}
	size := img.Size()

	sink.SetResolution(fullW, fullH)
	sink.SetFrame(0, 0, fullW, fullH)
	sink.SetNAxis(naxis)
	sink.SetBPP(img.BitDepth)
	sink.SetFrameBufferSize(size)

	buf := sink.FrameBuffer()
	off := 0
	for _, c := range img.Channels {
		off += copy(buf[off:], c.Data)
	}
	sink.SetImageExtension(ImageExtension)

	log.Info("%s: %dx%d, %d channel(s), %d bpp", file.Name, img.Width, img.Height, len(img.Channels), img.BitDepth)
	return nil
}
