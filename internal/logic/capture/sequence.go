package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/ccd"
	"github.com/cjeanneret/gphotoccd/internal/debug"
)

// ErrRunning is returned when a sequence is started while another one runs.
var ErrRunning = errors.New("sequence already running")

// MaxCount bounds the number of frames in one sequence.
const MaxCount = 1000

// Exposer is the part of the CCD device a sequence drives.
type Exposer interface {
	StartExposure(d time.Duration) error
	OnComplete(fn func(ccd.Result))
}

// Sequence takes N exposures back to back, waiting for each frame to be
// written before starting the next one.
type Sequence struct {
	device  Exposer
	results chan ccd.Result
	running atomic.Bool
}

// NewSequence subscribes to the device's completion events.
func NewSequence(dev Exposer) *Sequence {
	s := &Sequence{device: dev, results: make(chan ccd.Result, 1)}
	dev.OnComplete(func(r ccd.Result) {
		if !s.running.Load() {
			return
		}
		select {
		case s.results <- r:
		default:
		}
	})
	return s
}

// Params describes one sequence.
type Params struct {
	Exposure time.Duration
	Count    int
	Delay    time.Duration // pause between the end of a frame and the next start
}

// Validate checks the parameters against the device limits.
func (p Params) Validate() error {
	if p.Exposure < ccd.MinExposure || p.Exposure > ccd.MaxExposure {
		return fmt.Errorf("exposure must be between %v and %v, got %v", ccd.MinExposure, ccd.MaxExposure, p.Exposure)
	}
	if p.Count < 1 || p.Count > MaxCount {
		return fmt.Errorf("count must be between 1 and %d, got %d", MaxCount, p.Count)
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %v", p.Delay)
	}
	return nil
}

// Running reports whether a sequence is in progress.
func (s *Sequence) Running() bool { return s.running.Load() }

// Run blocks until every frame is done, one fails, or ctx is cancelled.
func (s *Sequence) Run(ctx context.Context, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	select {
	case <-s.results:
	default:
	}

	debug.Section("Exposure Sequence")
	debug.Value("Exposure", p.Exposure)
	debug.Value("Frames", p.Count)
	debug.Value("Delay", p.Delay)

	for i := 1; i <= p.Count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		debug.Step(i, fmt.Sprintf("Frame %d/%d", i, p.Count))
		if err := s.device.StartExposure(p.Exposure); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.results:
			if r.Err != nil {
				return fmt.Errorf("frame %d: %w", i, r.Err)
			}
		}
		debug.Live("frame %d/%d complete", i, p.Count)

		if i < p.Count && p.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}
	}

	debug.Section("Sequence Complete")
	return nil
}
