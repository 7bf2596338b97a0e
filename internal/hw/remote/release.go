// Package remote drives a wired remote release (FOCUS/SHUTTER/GND connector)
// through two GPIO lines, for bulb exposures and mirror lock-up.
package remote

import (
	"context"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/debug"
	"github.com/cjeanneret/gphotoccd/internal/hw/gpio"
)

// Release holds both lines HIGH (inactive) at rest; pulling a line LOW
// activates it.
//
// Bulb sequence:
//  1. optional mirror-up: FOCUS+SHUTTER LOW for the press time, then HIGH,
//     then wait for the mirror-lock delay
//  2. FOCUS then SHUTTER LOW
//  3. hold for the exposure
//  4. SHUTTER then FOCUS back HIGH
type Release struct {
	gpio       gpio.Driver
	focusPin   int
	shutterPin int
	press      time.Duration // mirror-up press time
	sleep      func(ctx context.Context, d time.Duration) error
}

// New configures both pins as outputs at rest.
func New(g gpio.Driver, focusPin, shutterPin int, press time.Duration) *Release {
	_ = g.SetupPin(focusPin, gpio.Output)
	_ = g.SetupPin(shutterPin, gpio.Output)
	_ = g.WritePin(focusPin, gpio.High)
	_ = g.WritePin(shutterPin, gpio.High)

	return &Release{
		gpio:       g,
		focusPin:   focusPin,
		shutterPin: shutterPin,
		press:      press,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Release) hold(level gpio.Level) error {
	if err := r.gpio.WritePin(r.focusPin, level); err != nil {
		return err
	}
	return r.gpio.WritePin(r.shutterPin, level)
}

// rest releases SHUTTER then FOCUS.
func (r *Release) rest() error {
	if err := r.gpio.WritePin(r.shutterPin, gpio.High); err != nil {
		return err
	}
	return r.gpio.WritePin(r.focusPin, gpio.High)
}

// Expose runs a bulb exposure of length d, preceded by a mirror-up press and
// a settle wait when mirrorLock > 0. Lines are always released on return.
func (r *Release) Expose(ctx context.Context, mirrorLock, d time.Duration) (err error) {
	defer func() {
		if rerr := r.rest(); err == nil {
			err = rerr
		}
	}()

	if mirrorLock > 0 {
		debug.Verbose("Remote: mirror up (focus=%d, shutter=%d)", r.focusPin, r.shutterPin)
		if err := r.hold(gpio.Low); err != nil {
			return err
		}
		if err := r.sleep(ctx, r.press); err != nil {
			return err
		}
		if err := r.rest(); err != nil {
			return err
		}
		debug.Verbose("Remote: mirror lock settle %v", mirrorLock)
		if err := r.sleep(ctx, mirrorLock); err != nil {
			return err
		}
	}

	debug.Live("Remote: shutter open for %v", d)
	if err := r.hold(gpio.Low); err != nil {
		return err
	}
	if err := r.sleep(ctx, d); err != nil {
		return err
	}
	debug.Live("Remote: shutter closed")
	return nil
}
