// Package ccd is the host-side CCD device: connection lifecycle, property
// registration, the exposure polling timer and the primary chip.
package ccd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/debug"
	"github.com/cjeanneret/gphotoccd/internal/hw/camera"
	"github.com/cjeanneret/gphotoccd/internal/hw/gphoto"
	"github.com/cjeanneret/gphotoccd/internal/imaging"
	"github.com/cjeanneret/gphotoccd/internal/property"
)

var log = debug.Module("ccd")

// Exposure bounds accepted by StartExposure.
const (
	MinExposure = time.Millisecond
	MaxExposure = time.Hour
)

// Chip properties.
const (
	PropBinning = "CCD_BINNING"
	MaxBinning  = 4
	GroupChip   = "Chip"
)

var (
	ErrNotConnected   = errors.New("device not connected")
	ErrBusy           = errors.New("exposure in progress")
	ErrExposureRange  = errors.New("exposure out of range")
	ErrShootRejected  = errors.New("camera rejected the exposure")
	ErrExposureFailed = errors.New("exposure failed")
)

// Result is handed to completion handlers once an exposure is over.
type Result struct {
	Frame imaging.Frame
	Meta  imaging.Metadata
	Err   error
}

// Status is a snapshot of the device for the web and event layers.
type Status struct {
	Connected     bool    `json:"connected"`
	Simulated     bool    `json:"simulated"`
	InExposure    bool    `json:"in_exposure"`
	Aborting      bool    `json:"aborting,omitempty"`
	Phase         string  `json:"phase"`
	RequestedS    float64 `json:"requested_s"`
	ExposureLeftS float64 `json:"exposure_left_s"`
}

// Options configures a Device.
type Options struct {
	Name           string
	Simulate       bool
	PollInterval   time.Duration
	Driver         gphoto.Driver // used when Simulate is false
	Camera         camera.Options
	PropertiesFile string // persisted property values, optional
	Chip           ChipParams
}

// ChipParams is the default sensor geometry.
type ChipParams struct {
	Width, Height int
	BPP           int
	PixelSize     float64
}

// Device serializes every camera access behind one mutex, standing in for
// the host event loop.
type Device struct {
	mu   sync.Mutex
	opts Options
	reg  *property.Registry
	chip *Chip

	cam        camera.Camera
	closer     func() error
	inExposure bool
	aborted    bool // the camera still owes an image nobody wants
	request    time.Duration
	started    time.Time
	left       time.Duration

	handlers []func(Result)
}

// New creates a disconnected device publishing its properties into reg.
func New(opts Options, reg *property.Registry) *Device {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Chip.Width == 0 {
		opts.Chip = ChipParams{Width: 1280, Height: 1024, BPP: 8, PixelSize: 5.4}
	}
	if opts.Camera.Device == "" {
		opts.Camera.Device = opts.Name
	}
	return &Device{
		opts: opts,
		reg:  reg,
		chip: NewChip(opts.Chip.Width, opts.Chip.Height, opts.Chip.BPP, opts.Chip.PixelSize),
	}
}

// Name returns the device name.
func (d *Device) Name() string { return d.opts.Name }

// Registry returns the property registry.
func (d *Device) Registry() *property.Registry { return d.reg }

// OnComplete registers a handler called after every exposure, from the timer goroutine.
func (d *Device) OnComplete(fn func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

// Connect builds the camera and registers its properties. On failure no
// partial state is kept.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.cam != nil {
		d.mu.Unlock()
		return nil
	}

	var cam camera.Camera
	if d.opts.Simulate {
		cam = camera.NewSimulation()
		log.Info("connected to simulated camera")
	} else {
		if d.opts.Driver == nil {
			d.mu.Unlock()
			return fmt.Errorf("connect: %w", gphoto.ErrNoCamera)
		}
		rc, err := camera.Connect(ctx, d.opts.Driver, d.opts.Camera)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		cam, d.closer = rc, rc.Close
		log.Info("connected to camera")
	}
	d.cam = cam
	d.chip.SetParams(d.opts.Chip.Width, d.opts.Chip.Height, d.opts.Chip.BPP, d.opts.Chip.PixelSize, d.opts.Chip.PixelSize)
	d.updateProperties()
	d.mu.Unlock()

	d.loadProperties()
	return nil
}

// updateProperties registers the dedicated ISO and format switches, then the
// camera's own properties. Callers hold d.mu.
func (d *Device) updateProperties() {
	reg := serialRegistry{reg: d.reg, mu: &d.mu}
	cam := d.cam

	reg.AddSwitch(property.Identity{
		Device: d.opts.Name, Name: camera.PropISO, Label: "ISO", Group: camera.GroupImage, Access: property.ReadWrite,
	}, cam.SetISO)
	for _, iso := range cam.AvailableISO() {
		_ = reg.AddChoice(camera.PropISO, iso, iso, iso == cam.CurrentISO())
	}

	reg.AddSwitch(property.Identity{
		Device: d.opts.Name, Name: camera.PropFormat, Label: "Format", Group: camera.GroupImage, Access: property.ReadWrite,
	}, cam.SetFormat)
	for _, f := range cam.AvailableFormats() {
		_ = reg.AddChoice(camera.PropFormat, f, f, f == cam.CurrentFormat())
	}

	bin, _ := d.chip.Bin()
	reg.AddNumber(property.Identity{
		Device: d.opts.Name, Name: PropBinning, Label: "Binning", Group: GroupChip, Access: property.ReadWrite,
	}, 1, MaxBinning, 1, float64(bin), d.setBinning)

	cam.SetupProperties(reg)
	log.Verbose("%d properties registered", d.reg.Len())
}

// setBinning applies a square binning factor. Callers hold d.mu.
func (d *Device) setBinning(v float64) bool {
	if d.inExposure || d.aborted {
		log.Warn("binning cannot change during an exposure")
		return false
	}
	if v != math.Trunc(v) {
		return false
	}
	if err := d.chip.SetBin(int(v), int(v)); err != nil {
		log.Error(err)
		return false
	}
	log.Live("binning set to %dx%d", int(v), int(v))
	return true
}

func (d *Device) loadProperties() {
	if d.opts.PropertiesFile == "" {
		return
	}
	f, err := os.Open(d.opts.PropertiesFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Error(err)
		}
		return
	}
	defer f.Close()
	if err := d.reg.LoadValues(f); err != nil {
		log.Warn("some saved properties were not applied: %v", err)
	}
}

// SaveProperties writes the current property values to the properties file.
func (d *Device) SaveProperties() error {
	if d.opts.PropertiesFile == "" {
		return nil
	}
	f, err := os.Create(d.opts.PropertiesFile)
	if err != nil {
		return fmt.Errorf("save properties: %w", err)
	}
	if err := d.reg.SaveValues(f); err != nil {
		f.Close()
		return fmt.Errorf("save properties: %w", err)
	}
	return f.Close()
}

// Disconnect drops the camera and every property.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cam == nil {
		return nil
	}
	var err error
	if d.closer != nil {
		err = d.closer()
	}
	d.cam, d.closer = nil, nil
	d.inExposure, d.aborted = false, false
	d.reg.Clear()
	log.Info("disconnected")
	return err
}

// Connected reports whether a camera is attached.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cam != nil
}

// StartExposure starts an exposure of dur.
func (d *Device) StartExposure(dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cam == nil {
		return ErrNotConnected
	}
	if dur < MinExposure || dur > MaxExposure {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrExposureRange, dur, MinExposure, MaxExposure)
	}
	if d.inExposure || d.aborted || d.cam.ShootStatus().Status != camera.Idle {
		return ErrBusy
	}
	if !d.cam.Shoot(dur) {
		return ErrShootRejected
	}
	d.inExposure = true
	d.request = dur
	d.started = time.Now()
	d.left = dur
	log.Info("exposure started: %v", dur)
	return nil
}

// AbortExposure stops the current exposure as far as the host is concerned:
// no completion handler runs for it. The camera cannot be interrupted, so
// its image is drained and discarded once it arrives; StartExposure reports
// ErrBusy until then.
func (d *Device) AbortExposure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cam == nil {
		return ErrNotConnected
	}
	if !d.inExposure {
		return nil
	}
	d.inExposure = false
	d.aborted = true
	d.left = 0
	log.Info("exposure aborted")
	return nil
}

// Status returns a snapshot of the device.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{Connected: d.cam != nil, Simulated: d.opts.Simulate, InExposure: d.inExposure, Aborting: d.aborted, Phase: camera.Idle.String()}
	if d.cam == nil {
		return st
	}
	shoot := d.cam.ShootStatus()
	st.Phase = shoot.Status.String()
	st.RequestedS = d.request.Seconds()
	st.ExposureLeftS = d.left.Seconds()
	return st
}

// Chip returns the primary chip. Callers must not use it while an exposure runs.
func (d *Device) Chip() *Chip { return d.chip }

// TimerHit polls the camera once. On Finished it writes the image into the
// chip and calls the completion handlers.
func (d *Device) TimerHit() {
	d.mu.Lock()
	if d.cam != nil && d.aborted {
		d.drainAborted()
		d.mu.Unlock()
		return
	}
	if d.cam == nil || !d.inExposure {
		d.mu.Unlock()
		return
	}
	st := d.cam.ShootStatus()
	if st.Status != camera.Finished {
		d.left = st.Remaining
		d.mu.Unlock()
		log.Live("exposure left: %.1fs", st.Remaining.Seconds())
		return
	}

	log.Info("exposure done, downloading image...")
	d.left = 0
	d.inExposure = false
	res := Result{Meta: imaging.Metadata{
		Instrument: d.opts.Name,
		Exposure:   d.request,
		ISO:        d.cam.CurrentISO(),
		Format:     d.cam.CurrentFormat(),
		Start:      d.started,
	}}
	if d.cam.WriteImage()(d.chip) {
		res.Frame = d.chip.Frame()
		log.Info("download complete")
	} else {
		res.Err = ErrExposureFailed
		log.Warn("exposure failed")
	}
	handlers := d.handlers
	d.mu.Unlock()

	for _, fn := range handlers {
		fn(res)
	}
}

// drainAborted discards the image of an aborted exposure into a scratch
// chip, leaving the last frame untouched. Callers hold d.mu.
func (d *Device) drainAborted() {
	switch d.cam.ShootStatus().Status {
	case camera.Running:
		return
	case camera.Finished:
		c := d.opts.Chip
		scratch := NewChip(c.Width, c.Height, c.BPP, c.PixelSize)
		if !d.cam.WriteImage()(scratch) {
			log.Warn("aborted exposure left no image")
		}
	}
	d.aborted = false
	log.Live("aborted exposure drained")
}

// Run ticks TimerHit every poll interval until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.TimerHit()
		}
	}
}

// serialRegistry wraps every update callback with the device mutex so
// property writes never interleave with the polling timer.
type serialRegistry struct {
	reg *property.Registry
	mu  *sync.Mutex
}

func (s serialRegistry) AddText(id property.Identity, value string, fn func(string) bool) {
	s.reg.AddText(id, value, func(v string) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(v)
	})
}

func (s serialRegistry) AddNumber(id property.Identity, min, max, step, value float64, fn func(float64) bool) {
	s.reg.AddNumber(id, min, max, step, value, func(v float64) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(v)
	})
}

func (s serialRegistry) AddSwitch(id property.Identity, fn func(string) bool) {
	s.reg.AddSwitch(id, func(v string) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(v)
	})
}

func (s serialRegistry) AddChoice(prop, name, label string, on bool) error {
	return s.reg.AddChoice(prop, name, label, on)
}
