package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/debug"
	"github.com/cjeanneret/gphotoccd/internal/hw/gphoto"
	"github.com/cjeanneret/gphotoccd/internal/logic/exposure"
	"github.com/cjeanneret/gphotoccd/internal/logic/ingest"
	"github.com/cjeanneret/gphotoccd/internal/logic/reflector"
	"github.com/cjeanneret/gphotoccd/internal/property"
)

var log = debug.Module("camera")

// Options configures a Real camera.
type Options struct {
	Device          string // host device name used in property identities
	MirrorLock      time.Duration
	TransferTimeout time.Duration
}

// Real is a camera driven through a gphoto device.
type Real struct {
	opts     Options
	device   gphoto.Device
	settings gphoto.Settings
	ctl      *exposure.Controller
	ingester *ingest.Ingester
}

var _ Camera = (*Real)(nil)

// Connect autodetects a camera. It fails with gphoto.ErrNoCamera when none is attached.
func Connect(ctx context.Context, driver gphoto.Driver, opts Options) (*Real, error) {
	dev, err := driver.Autodetect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect camera: %w", err)
	}
	return NewReal(dev, opts), nil
}

// NewReal wraps an already detected device.
func NewReal(dev gphoto.Device, opts Options) *Real {
	c := &Real{
		opts:     opts,
		device:   dev,
		settings: dev.Settings(),
		ctl:      exposure.NewController(dev.Control()),
		ingester: ingest.New(opts.TransferTimeout),
	}
	c.ctl.SetMirrorLock(opts.MirrorLock)
	return c
}

// Close releases the device.
func (c *Real) Close() error { return c.device.Close() }

func (c *Real) AvailableISO() []string { return c.settings.ISOChoices() }
func (c *Real) CurrentISO() string     { return c.settings.ISO() }

func (c *Real) SetISO(iso string) bool {
	c.settings.SetISO(iso)
	if err := c.settings.Save(); err != nil {
		log.Error(err)
	}
	ok := c.settings.ISO() == iso
	if !ok {
		log.Warn("ISO %s not accepted, camera reports %s", iso, c.settings.ISO())
	}
	return ok
}

func (c *Real) AvailableFormats() []string { return c.settings.FormatChoices() }
func (c *Real) CurrentFormat() string      { return c.settings.Format() }

func (c *Real) SetFormat(format string) bool {
	c.settings.SetFormat(format)
	if err := c.settings.Save(); err != nil {
		log.Error(err)
	}
	ok := c.settings.Format() == format
	if !ok {
		log.Warn("format %s not accepted, camera reports %s", format, c.settings.Format())
	}
	return ok
}

// Shoot rejects composite formats: one exposure must yield exactly one image.
func (c *Real) Shoot(d time.Duration) bool {
	if c.ctl.Pending() != nil {
		log.Warn("exposure already in progress")
		return false
	}
	if f := c.settings.Format(); gphoto.IsComposite(f) {
		log.Warn("format %q produces more than one file per exposure, select a single format", f)
		return false
	}
	return c.ctl.Shoot(d)
}

func (c *Real) ShootStatus() ShootStatus { return c.ctl.Status() }

// WriteImage blocks on the transfer (bounded by Options.TransferTimeout).
// The pending capture is released whatever the outcome.
func (c *Real) WriteImage() WriteImageFunc {
	used := false
	return func(sink FrameSink) bool {
		if used {
			return false
		}
		used = true
		shot := c.ctl.Pending()
		if shot == nil {
			log.Warn("no exposure to write")
			return false
		}
		defer c.ctl.Release()
		if err := c.ingester.Ingest(context.Background(), shot, sink); err != nil {
			log.Error(err)
			return false
		}
		return true
	}
}

// SetupProperties registers the mirror-lock delay, the serial port when the
// camera needs one, and one property per reflectable setting.
func (c *Real) SetupProperties(reg Registry) {
	if c.settings.NeedsSerialPort() {
		reg.AddText(property.Identity{
			Device: c.opts.Device, Name: PropSerialPort, Label: "Shutter Port", Group: GroupMain, Access: property.ReadWrite,
		}, "", func(port string) bool {
			c.settings.SetSerialPort(port)
			return true
		})
	}

	reg.AddNumber(property.Identity{
		Device: c.opts.Device, Name: PropMirrorLock, Label: "Mirror Lock (s)", Group: GroupImage, Access: property.ReadWrite,
	}, 0, exposure.MaxMirrorLock.Seconds(), 1, c.ctl.MirrorLock().Seconds(), func(v float64) bool {
		c.ctl.SetMirrorLock(time.Duration(v) * time.Second)
		return true
	})

	used := append([]string{gphoto.ISOWidget}, gphoto.FormatWidgets...)
	reflector.New(c.settings, c.opts.Device, used...).Reflect(reg)
}

// MirrorLock returns the current mirror-lock delay.
func (c *Real) MirrorLock() time.Duration { return c.ctl.MirrorLock() }
