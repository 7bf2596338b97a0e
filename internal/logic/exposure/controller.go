// Package exposure implements the capture state machine of a hardware camera:
// Idle -> Running -> Finished -> Idle.
package exposure

import (
	"time"

	"github.com/cjeanneret/gphotoccd/internal/debug"
	"github.com/cjeanneret/gphotoccd/internal/hw/gphoto"
)

var log = debug.Module("exposure")

// Status is the phase of the current exposure.
type Status int

const (
	Idle Status = iota
	Running
	Finished
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "idle"
	}
}

// ShootStatus is recomputed on every query; nothing advances it but the clock.
type ShootStatus struct {
	Status    Status
	Elapsed   time.Duration
	Remaining time.Duration
}

// MaxMirrorLock bounds the pre-exposure mirror-lock delay.
const MaxMirrorLock = 10 * time.Second

// Controller owns at most one pending shot.
type Controller struct {
	control    gphoto.Control
	mirrorLock time.Duration
	shot       gphoto.Shot
}

// NewController creates an idle controller.
func NewController(control gphoto.Control) *Controller {
	return &Controller{control: control}
}

// SetMirrorLock sets the delay requested before the next exposures.
// It is clamped to [0, MaxMirrorLock].
func (c *Controller) SetMirrorLock(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if d > MaxMirrorLock {
		d = MaxMirrorLock
	}
	c.mirrorLock = d
}

// MirrorLock returns the configured mirror-lock delay.
func (c *Controller) MirrorLock() time.Duration { return c.mirrorLock }

// Shoot starts an exposure. It returns false when one is already pending or
// when the driver refuses the shot.
func (c *Controller) Shoot(d time.Duration) bool {
	if c.shot != nil {
		log.Warn("exposure already in progress")
		return false
	}
	shot, err := c.control.Shoot(d, c.mirrorLock > 0, c.mirrorLock)
	if err != nil {
		log.Error(err)
		return false
	}
	if shot == nil {
		log.Warn("driver returned no capture handle")
		return false
	}
	c.shot = shot
	log.Info("exposure started: %v (mirror lock %v)", d, c.mirrorLock)
	return true
}

// Status reports the current phase without changing it.
func (c *Controller) Status() ShootStatus {
	if c.shot == nil {
		return ShootStatus{Status: Idle}
	}
	elapsed, total := c.shot.Elapsed(), c.shot.Duration()
	if elapsed >= total {
		return ShootStatus{Status: Finished, Elapsed: elapsed}
	}
	return ShootStatus{Status: Running, Elapsed: elapsed, Remaining: total - elapsed}
}

// Pending returns the shot awaiting retrieval, nil when idle.
func (c *Controller) Pending() gphoto.Shot { return c.shot }

// Release drops the pending shot, returning the controller to Idle.
func (c *Controller) Release() {
	c.shot = nil
}
