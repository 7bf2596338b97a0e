package ccd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/hw/camera"
	"github.com/cjeanneret/gphotoccd/internal/hw/gphoto"
	"github.com/cjeanneret/gphotoccd/internal/property"
)

func newSimDevice(t *testing.T, opts Options) *Device {
	t.Helper()
	opts.Name = "GPhoto CCD"
	opts.Simulate = true
	d := New(opts, property.NewRegistry())
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return d
}

func waitFinished(t *testing.T, d *Device) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.Status().Phase == camera.Finished.String() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("exposure never finished")
}

func TestConnect_RegistersImageSettings(t *testing.T) {
	d := newSimDevice(t, Options{})
	reg := d.Registry()

	iso, ok := reg.Get(camera.PropISO)
	if !ok || iso.Value != "200" || len(iso.Switches) != 4 {
		t.Errorf("ISO = %+v", iso)
	}
	format, ok := reg.Get(camera.PropFormat)
	if !ok || format.Value != "RAW" {
		t.Errorf("format = %+v", format)
	}
	if iso.Device != "GPhoto CCD" || iso.Group != camera.GroupImage {
		t.Errorf("identity = %q/%q", iso.Device, iso.Group)
	}

	if err := reg.Update(camera.PropISO, "800"); err != nil {
		t.Fatalf("Update ISO: %v", err)
	}
	if got, _ := reg.Get(camera.PropISO); got.Value != "800" {
		t.Errorf("ISO after update = %q", got.Value)
	}
}

type failingDriver struct{}

func (failingDriver) Autodetect(context.Context) (gphoto.Device, error) {
	return nil, gphoto.ErrNoCamera
}

func TestConnect_NoCameraLeavesNoState(t *testing.T) {
	cases := []struct {
		name   string
		driver gphoto.Driver
	}{
		{"driver_error", failingDriver{}},
		{"no_driver", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := New(Options{Name: "GPhoto CCD", Driver: tc.driver}, property.NewRegistry())
			err := d.Connect(context.Background())
			if !errors.Is(err, gphoto.ErrNoCamera) {
				t.Fatalf("err = %v, want ErrNoCamera", err)
			}
			if d.Connected() || d.Registry().Len() != 0 {
				t.Error("failed connect must not keep partial state")
			}
		})
	}
}

func TestStartExposure_Errors(t *testing.T) {
	disconnected := New(Options{Name: "x", Simulate: true}, property.NewRegistry())
	if err := disconnected.StartExposure(time.Second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: err = %v", err)
	}

	d := newSimDevice(t, Options{})
	for _, dur := range []time.Duration{0, time.Microsecond, 2 * time.Hour} {
		if err := d.StartExposure(dur); !errors.Is(err, ErrExposureRange) {
			t.Errorf("StartExposure(%v): err = %v, want ErrExposureRange", dur, err)
		}
	}
	if err := d.StartExposure(time.Minute); err != nil {
		t.Fatalf("StartExposure: %v", err)
	}
	if err := d.StartExposure(time.Minute); !errors.Is(err, ErrBusy) {
		t.Errorf("second exposure: err = %v, want ErrBusy", err)
	}
}

func TestTimerHit_CompletesExposure(t *testing.T) {
	d := newSimDevice(t, Options{})
	var results []Result
	d.OnComplete(func(r Result) { results = append(results, r) })

	if err := d.StartExposure(5 * time.Millisecond); err != nil {
		t.Fatalf("StartExposure: %v", err)
	}
	st := d.Status()
	if !st.InExposure || st.Phase != "running" {
		t.Errorf("status = %+v", st)
	}
	waitFinished(t, d)
	d.TimerHit()

	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Err != nil {
		t.Fatalf("result error: %v", r.Err)
	}
	if r.Frame.Width != 1280 || r.Frame.Height != 1024 || len(r.Frame.Data) != 1280*1024 {
		t.Errorf("frame = %dx%d (%d bytes)", r.Frame.Width, r.Frame.Height, len(r.Frame.Data))
	}
	if r.Meta.ISO != "200" || r.Meta.Format != "RAW" || r.Meta.Exposure != 5*time.Millisecond {
		t.Errorf("meta = %+v", r.Meta)
	}
	if d.Chip().ImageExtension() != "fits" {
		t.Errorf("extension = %q", d.Chip().ImageExtension())
	}

	if st := d.Status(); st.InExposure || st.Phase != "idle" {
		t.Errorf("after completion: %+v", st)
	}
	d.TimerHit()
	if len(results) != 1 {
		t.Error("TimerHit while idle must not complete again")
	}
}

func TestTimerHit_UpdatesExposureLeft(t *testing.T) {
	d := newSimDevice(t, Options{})
	if err := d.StartExposure(time.Minute); err != nil {
		t.Fatal(err)
	}
	d.TimerHit()
	st := d.Status()
	if st.ExposureLeftS <= 0 || st.ExposureLeftS > 60 {
		t.Errorf("exposure left = %v", st.ExposureLeftS)
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	d := newSimDevice(t, Options{PollInterval: time.Millisecond})
	done := make(chan Result, 1)
	d.OnComplete(func(r Result) { done <- r })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	if err := d.StartExposure(2 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-done:
		if r.Err != nil {
			t.Errorf("result error: %v", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exposure never completed")
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestDisconnect_ClearsProperties(t *testing.T) {
	d := newSimDevice(t, Options{})
	if err := d.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if d.Connected() || d.Registry().Len() != 0 {
		t.Error("Disconnect should drop camera and properties")
	}
	if err := d.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
}

func TestProperties_PersistAcrossConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "properties.yaml")

	d := newSimDevice(t, Options{PropertiesFile: path})
	if err := d.Registry().Update(camera.PropISO, "400"); err != nil {
		t.Fatal(err)
	}
	if err := d.SaveProperties(); err != nil {
		t.Fatalf("SaveProperties: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "ISO") {
		t.Errorf("saved file:\n%s", data)
	}

	fresh := newSimDevice(t, Options{PropertiesFile: path})
	if got, _ := fresh.Registry().Get(camera.PropISO); got.Value != "400" {
		t.Errorf("ISO after reload = %q, want 400", got.Value)
	}
}

func TestSaveProperties_NoFileConfigured(t *testing.T) {
	if err := newSimDevice(t, Options{}).SaveProperties(); err != nil {
		t.Errorf("SaveProperties: %v", err)
	}
}

func TestAbortExposure_DiscardsImage(t *testing.T) {
	d := newSimDevice(t, Options{})
	var results []Result
	d.OnComplete(func(r Result) { results = append(results, r) })

	if err := d.StartExposure(5 * time.Millisecond); err != nil {
		t.Fatalf("StartExposure: %v", err)
	}
	if err := d.AbortExposure(); err != nil {
		t.Fatalf("AbortExposure: %v", err)
	}
	if st := d.Status(); st.InExposure || !st.Aborting {
		t.Errorf("after abort: %+v", st)
	}
	if err := d.StartExposure(time.Second); !errors.Is(err, ErrBusy) {
		t.Errorf("StartExposure before drain: err = %v, want ErrBusy", err)
	}

	waitFinished(t, d)
	d.TimerHit()
	if len(results) != 0 {
		t.Errorf("aborted exposure reached %d handler(s)", len(results))
	}
	if st := d.Status(); st.Aborting || st.Phase != "idle" {
		t.Errorf("after drain: %+v", st)
	}
	if err := d.StartExposure(5 * time.Millisecond); err != nil {
		t.Fatalf("StartExposure after drain: %v", err)
	}
	waitFinished(t, d)
	d.TimerHit()
	if len(results) != 1 || results[0].Err != nil {
		t.Errorf("results = %+v", results)
	}
}

func TestAbortExposure_WaitsForCamera(t *testing.T) {
	d := newSimDevice(t, Options{})
	if err := d.StartExposure(time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := d.AbortExposure(); err != nil {
		t.Fatal(err)
	}
	d.TimerHit()
	if st := d.Status(); !st.Aborting || st.Phase != "running" {
		t.Errorf("status = %+v, want aborting while the camera still exposes", st)
	}
}

func TestAbortExposure_IdleAndDisconnected(t *testing.T) {
	d := newSimDevice(t, Options{})
	if err := d.AbortExposure(); err != nil {
		t.Errorf("idle abort: %v", err)
	}
	if st := d.Status(); st.Aborting {
		t.Error("idle abort should not mark the device aborting")
	}
	off := New(Options{Name: "x", Simulate: true}, property.NewRegistry())
	if err := off.AbortExposure(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: err = %v", err)
	}
}

func TestBinning_Property(t *testing.T) {
	d := newSimDevice(t, Options{})
	reg := d.Registry()

	bin, ok := reg.Get(PropBinning)
	if !ok || bin.Value != "1" {
		t.Fatalf("binning = %+v", bin)
	}
	for _, v := range []string{"1.5", "8", "0"} {
		if err := reg.Update(PropBinning, v); err == nil {
			t.Errorf("binning %s accepted", v)
		}
	}
	if err := reg.Update(PropBinning, "2"); err != nil {
		t.Fatalf("Update binning: %v", err)
	}

	var results []Result
	d.OnComplete(func(r Result) { results = append(results, r) })
	if err := d.StartExposure(5 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := reg.Update(PropBinning, "1"); !errors.Is(err, property.ErrUpdateRejected) {
		t.Errorf("binning change during exposure: err = %v", err)
	}
	waitFinished(t, d)
	d.TimerHit()
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	f := results[0].Frame
	if f.Width != 640 || f.Height != 512 || len(f.Data) != 640*512 {
		t.Errorf("frame = %dx%d (%d bytes)", f.Width, f.Height, len(f.Data))
	}
}
