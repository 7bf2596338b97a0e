package gphoto

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/debug"
)

var log = debug.Module("gphoto2")

// Runner executes the gphoto2 tool. The production Runner uses os/exec;
// tests plug in a recording fake.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs a gphoto2 binary.
type ExecRunner struct {
	Path string
}

// Run executes the binary and returns its combined output.
func (e ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	log.Trace("exec %s %v", e.Path, args)
	out, err := exec.CommandContext(ctx, e.Path, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %v: %w: %s", e.Path, args, err, bytes.TrimSpace(out))
	}
	return out, nil
}

// Releaser drives an external shutter release for bulb exposures.
type Releaser interface {
	Expose(ctx context.Context, mirrorLock, d time.Duration) error
}

// CLIOptions configures the gphoto2 driver.
type CLIOptions struct {
	Runner        Runner
	Port          string // explicit --port; "serial" means it is chosen later via SetSerialPort
	DownloadDir   string
	BulbThreshold time.Duration
	Release       Releaser // optional GPIO remote release
}

// CLIDriver is a Driver backed by the gphoto2 command-line tool.
type CLIDriver struct {
	opts CLIOptions
}

// NewCLIDriver creates a gphoto2 driver.
func NewCLIDriver(opts CLIOptions) *CLIDriver {
	if opts.BulbThreshold <= 0 {
		opts.BulbThreshold = 30 * time.Second
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = os.TempDir()
	}
	return &CLIDriver{opts: opts}
}

// Autodetect picks the first camera gphoto2 reports and loads its settings tree.
func (d *CLIDriver) Autodetect(ctx context.Context) (Device, error) {
	dev := &cliDevice{opts: d.opts}
	if d.opts.Port == "" {
		out, err := d.opts.Runner.Run(ctx, "--auto-detect")
		if err != nil {
			return nil, fmt.Errorf("autodetect: %w", err)
		}
		cams := ParseAutodetect(bytes.NewReader(out))
		if len(cams) == 0 {
			return nil, ErrNoCamera
		}
		dev.model, dev.port = cams[0][0], cams[0][1]
		log.Info("found %s on %s", dev.model, dev.port)
	} else if d.opts.Port != "serial" {
		dev.port = d.opts.Port
	}

	root, err := dev.listConfig(ctx)
	if err != nil {
		return nil, err
	}
	dev.root = root
	return dev, nil
}

// cliDevice runs one gphoto2 process at a time against the camera: busy is
// held for the whole of a capture and for every Save.
type cliDevice struct {
	busy sync.Mutex

	opts       CLIOptions
	model      string
	port       string
	serialPort string
	root       *Widget
}

func (d *cliDevice) Settings() Settings { return d }
func (d *cliDevice) Control() Control   { return d }
func (d *cliDevice) Close() error       { return nil }

func (d *cliDevice) portArgs() []string {
	switch {
	case d.serialPort != "":
		return []string{"--port", "serial:" + d.serialPort}
	case d.port != "":
		return []string{"--port", d.port}
	default:
		return nil
	}
}

func (d *cliDevice) run(ctx context.Context, args ...string) ([]byte, error) {
	return d.runOn(ctx, d.portArgs(), args...)
}

func (d *cliDevice) runOn(ctx context.Context, port []string, args ...string) ([]byte, error) {
	return d.opts.Runner.Run(ctx, append(append([]string(nil), port...), args...)...)
}

func (d *cliDevice) listConfig(ctx context.Context) (*Widget, error) {
	out, err := d.run(ctx, "--list-all-config")
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	root, err := ParseConfigList(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return root, nil
}

func (d *cliDevice) formatWidget() *Widget {
	for _, name := range FormatWidgets {
		if w := d.root.ChildByName(name); w != nil {
			return w
		}
	}
	return nil
}

func menuChoices(w *Widget) []string {
	if w == nil {
		return nil
	}
	return w.Choices()
}

func menuValue(w *Widget) string {
	if w == nil {
		return ""
	}
	v, _ := w.Menu()
	return v
}

func (d *cliDevice) ISOChoices() []string { return menuChoices(d.root.ChildByName(ISOWidget)) }
func (d *cliDevice) ISO() string          { return menuValue(d.root.ChildByName(ISOWidget)) }

func (d *cliDevice) SetISO(iso string) {
	if w := d.root.ChildByName(ISOWidget); w != nil {
		if err := w.SetMenu(iso); err != nil {
			log.Error(err)
		}
	}
}

func (d *cliDevice) FormatChoices() []string { return menuChoices(d.formatWidget()) }
func (d *cliDevice) Format() string          { return menuValue(d.formatWidget()) }

func (d *cliDevice) SetFormat(format string) {
	if w := d.formatWidget(); w != nil {
		if err := w.SetMenu(format); err != nil {
			log.Error(err)
		}
	}
}

func (d *cliDevice) Widgets() *Widget { return d.root }

func (d *cliDevice) NeedsSerialPort() bool { return d.opts.Port == "serial" }

func (d *cliDevice) SetSerialPort(port string) {
	log.Info("using serial port %s", port)
	d.serialPort = port
}

// Save flushes staged widget values in one gphoto2 call, then re-reads the
// tree so getters report what the camera actually accepted. While a capture
// runs nothing is sent: staged values are dropped and ErrCameraBusy returned.
func (d *cliDevice) Save() error {
	if !d.busy.TryLock() {
		for _, w := range d.root.AllChildren() {
			w.Discard()
		}
		return ErrCameraBusy
	}
	defer d.busy.Unlock()

	ctx := context.Background()
	var args []string
	for _, w := range d.root.AllChildren() {
		if v, ok := w.Pending(); ok {
			args = append(args, "--set-config", w.Name+"="+FormatValue(v))
		}
	}
	var setErr error
	if len(args) > 0 {
		if _, err := d.run(ctx, args...); err != nil {
			setErr = fmt.Errorf("set config: %w", err)
		}
	}
	fresh, err := d.listConfig(ctx)
	if err != nil {
		for _, w := range d.root.AllChildren() {
			w.Discard()
		}
		if setErr != nil {
			return setErr
		}
		return err
	}
	merge(d.root, fresh)
	return setErr
}

// merge copies device values from fresh into the existing tree so widget
// pointers held by callers stay valid.
func merge(dst, fresh *Widget) {
	for _, w := range dst.AllChildren() {
		f := fresh.ChildByName(w.Name)
		if f == nil || f.Type != w.Type {
			w.Discard()
			continue
		}
		w.Commit(f.value)
		w.rng = f.rng
		w.choices = f.choices
		w.Access = f.Access
	}
}

// Shoot starts a capture in the background and returns immediately.
// Exposures below the bulb threshold select the nearest shutter speed the
// camera offers; when none is within a third of a stop bulb is used.
func (d *cliDevice) Shoot(exposure time.Duration, mirrorLock bool, mirrorLockDuration time.Duration) (Shot, error) {
	if exposure <= 0 {
		return nil, fmt.Errorf("invalid exposure %v", exposure)
	}
	if err := os.MkdirAll(d.opts.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("download dir: %w", err)
	}
	if !mirrorLock {
		mirrorLockDuration = 0
	}

	bulb := exposure >= d.opts.BulbThreshold
	var speed []string
	if w := d.shutterWidget(); w != nil {
		choice, actual, ok := "", time.Duration(0), false
		if !bulb {
			choice, actual, ok = NearestShutterSpeed(w.Choices(), exposure)
			if ok {
				exposure = actual
			} else {
				log.Info("no shutter speed matches %v, using bulb", exposure)
				bulb = true
			}
		}
		if bulb {
			choice, ok = bulbChoice(w.Choices())
		}
		if ok {
			speed = []string{"--set-config", w.Name + "=" + choice}
			w.Commit(choice)
		}
	} else if !bulb {
		log.Warn("camera has no shutter speed setting, exposing %v in bulb", exposure)
		bulb = true
	}

	prefix := filepath.Join(d.opts.DownloadDir, "capture-"+strconv.FormatInt(time.Now().UnixNano(), 10))
	s := &cliShot{
		started:  time.Now(),
		duration: exposure + mirrorLockDuration,
		done:     make(chan struct{}),
	}
	port := d.portArgs()
	log.Info("shooting %v (bulb=%v, mirror lock=%v)", exposure, bulb, mirrorLockDuration)

	go func() {
		defer close(s.done)
		d.busy.Lock()
		defer d.busy.Unlock()
		// Generous bound: the exposure itself plus time for the download.
		ctx, cancel := context.WithTimeout(context.Background(), s.duration+5*time.Minute)
		defer cancel()

		var err error
		switch {
		case bulb && d.opts.Release != nil:
			if len(speed) > 0 {
				if _, err = d.runOn(ctx, port, speed...); err != nil {
					break
				}
			}
			err = d.releaseBulb(ctx, port, prefix, exposure, mirrorLockDuration)
		case bulb:
			_, err = d.runOn(ctx, port, append(speed, bulbArgs(prefix, exposure, mirrorLockDuration)...)...)
		default:
			_, err = d.runOn(ctx, port, append(speed, captureArgs(prefix, mirrorLockDuration)...)...)
		}
		if err != nil {
			s.err = fmt.Errorf("capture: %w", err)
			return
		}
		s.file, s.err = readCapture(prefix)
	}()
	return s, nil
}

func (d *cliDevice) shutterWidget() *Widget {
	for _, name := range ShutterWidgets {
		if w := d.root.ChildByName(name); w != nil && w.Type == WidgetMenu && w.Access != ReadOnly {
			return w
		}
	}
	return nil
}

func (d *cliDevice) releaseBulb(ctx context.Context, port []string, prefix string, exposure, mirrorLock time.Duration) error {
	dl := make(chan error, 1)
	go func() {
		_, err := d.runOn(ctx, port, "--wait-event-and-download=FILEADDED", "--filename", prefix+".%C")
		dl <- err
	}()
	if err := d.opts.Release.Expose(ctx, mirrorLock, exposure); err != nil {
		return fmt.Errorf("remote release: %w", err)
	}
	return <-dl
}

func waitArg(d time.Duration) string {
	return fmt.Sprintf("--wait-event=%ds", int(d.Round(time.Second)/time.Second))
}

func captureArgs(prefix string, mirrorLock time.Duration) []string {
	var args []string
	if mirrorLock > 0 {
		args = append(args, waitArg(mirrorLock))
	}
	return append(args, "--capture-image-and-download", "--filename", prefix+".%C")
}

func bulbArgs(prefix string, exposure, mirrorLock time.Duration) []string {
	var args []string
	if mirrorLock > 0 {
		// First press raises the mirror when mirror lock-up is enabled on the body.
		args = append(args, "--set-config", "bulb=1", "--set-config", "bulb=0", waitArg(mirrorLock))
	}
	return append(args,
		"--set-config", "bulb=1",
		waitArg(exposure),
		"--set-config", "bulb=0",
		"--wait-event-and-download=FILEADDED",
		"--filename", prefix+".%C",
	)
}

func readCapture(prefix string) (*CameraFile, error) {
	matches, err := filepath.Glob(prefix + ".*")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no file downloaded for %s", filepath.Base(prefix))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
	return &CameraFile{Name: filepath.Base(matches[0]), Data: data}, nil
}

type cliShot struct {
	started  time.Time
	duration time.Duration

	done chan struct{}
	file *CameraFile
	err  error
}

func (s *cliShot) Elapsed() time.Duration  { return time.Since(s.started) }
func (s *cliShot) Duration() time.Duration { return s.duration }

func (s *cliShot) File(ctx context.Context) (*CameraFile, error) {
	select {
	case <-s.done:
		return s.file, s.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTransferStall, ctx.Err())
	}
}
