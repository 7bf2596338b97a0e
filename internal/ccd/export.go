package ccd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/imaging"
)

// Uploader stores an encoded frame remotely and returns its URL.
type Uploader interface {
	SaveFrame(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Publisher announces finished exposures.
type Publisher interface {
	PublishExposure(Exported) error
}

// Exported describes one handled exposure result.
type Exported struct {
	Device    string    `json:"device"`
	Path      string    `json:"path,omitempty"`
	URL       string    `json:"url,omitempty"`
	ExposureS float64   `json:"exposure_s"`
	ISO       string    `json:"iso,omitempty"`
	Format    string    `json:"format,omitempty"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Start     time.Time `json:"start"`
	Error     string    `json:"error,omitempty"`
}

// Exporter writes completed frames as FITS files, then optionally uploads
// and publishes them. Uploader and Publisher may be nil.
type Exporter struct {
	Dir       string
	Uploader  Uploader
	Publisher Publisher
	Timeout   time.Duration // bound on the upload, default 30s
	now       func() time.Time
}

// NewExporter returns an Exporter writing into dir.
func NewExporter(dir string) *Exporter {
	return &Exporter{Dir: dir, Timeout: 30 * time.Second, now: time.Now}
}

// Export writes r to disk, uploads it when an Uploader is set, and
// describes the outcome.
func (e *Exporter) Export(ctx context.Context, r Result) (Exported, error) {
	ev := Exported{
		Device:    r.Meta.Instrument,
		ExposureS: r.Meta.Exposure.Seconds(),
		ISO:       r.Meta.ISO,
		Format:    r.Meta.Format,
		Width:     r.Frame.Width,
		Height:    r.Frame.Height,
		Start:     r.Meta.Start,
	}
	if ev.Start.IsZero() {
		ev.Start = e.clock()
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
		return ev, r.Err
	}

	var buf bytes.Buffer
	if err := imaging.WriteFITS(&buf, r.Frame, r.Meta); err != nil {
		return ev, fmt.Errorf("encode fits: %w", err)
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return ev, fmt.Errorf("create output dir: %w", err)
	}
	name := frameName(r.Meta.Instrument, ev.Start)
	ev.Path = filepath.Join(e.Dir, name)
	if err := os.WriteFile(ev.Path, buf.Bytes(), 0o644); err != nil {
		return ev, fmt.Errorf("write %s: %w", ev.Path, err)
	}
	log.Info("frame saved: %s (%d bytes)", ev.Path, buf.Len())

	if e.Uploader != nil {
		ctx, cancel := context.WithTimeout(ctx, e.timeout())
		defer cancel()
		url, err := e.Uploader.SaveFrame(ctx, name, buf.Bytes(), "application/fits")
		if err != nil {
			return ev, fmt.Errorf("upload: %w", err)
		}
		ev.URL = url
	}
	return ev, nil
}

// Handle is a completion handler: it exports r and publishes the outcome.
// Failures are logged, never returned.
func (e *Exporter) Handle(r Result) {
	ev, err := e.Export(context.Background(), r)
	if err != nil {
		log.Error(fmt.Errorf("export: %w", err))
		if ev.Error == "" {
			ev.Error = err.Error()
		}
	}
	if e.Publisher == nil {
		return
	}
	if err := e.Publisher.PublishExposure(ev); err != nil {
		log.Warn("publish exposure: %v", err)
	}
}

func (e *Exporter) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Exporter) timeout() time.Duration {
	if e.Timeout <= 0 {
		return 30 * time.Second
	}
	return e.Timeout
}

// frameName builds "<device>_<UTC timestamp>.fits" with spaces folded.
func frameName(device string, t time.Time) string {
	if device == "" {
		device = "frame"
	}
	device = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, device)
	return fmt.Sprintf("%s_%s.fits", device, t.UTC().Format("20060102T150405.000"))
}

// Publishers fans an event out to several publishers.
type Publishers []Publisher

func (ps Publishers) PublishExposure(e Exported) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishExposure(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
