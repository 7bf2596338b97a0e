package camera

import (
	"math/rand"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/logic/ingest"
)

// Simulated settings.
var (
	SimulationISO     = []string{"100", "200", "400", "800"}
	SimulationFormats = []string{"RAW", "JPEG"}
)

// Simulation is a camera without hardware: exposures are timed with the
// clock and images are random noise sized from the sink geometry.
type Simulation struct {
	iso    string
	format string
	now    func() time.Time
	rnd    *rand.Rand

	started  time.Time
	duration time.Duration
	valid    bool
}

var _ Camera = (*Simulation)(nil)

// NewSimulation creates a simulated camera using the wall clock.
func NewSimulation() *Simulation {
	return NewSimulationWithClock(time.Now)
}

// NewSimulationWithClock creates a simulated camera reading time from now.
func NewSimulationWithClock(now func() time.Time) *Simulation {
	return &Simulation{
		iso:    "200",
		format: "RAW",
		now:    now,
		rnd:    rand.New(rand.NewSource(1)),
	}
}

func (s *Simulation) AvailableISO() []string { return SimulationISO }
func (s *Simulation) CurrentISO() string     { return s.iso }

func (s *Simulation) SetISO(iso string) bool {
	s.iso = iso
	return true
}

func (s *Simulation) AvailableFormats() []string { return SimulationFormats }
func (s *Simulation) CurrentFormat() string      { return s.format }

func (s *Simulation) SetFormat(format string) bool {
	s.format = format
	return true
}

func (s *Simulation) Shoot(d time.Duration) bool {
	if s.valid {
		log.Warn("simulated exposure already in progress")
		return false
	}
	s.started = s.now()
	s.duration = d
	s.valid = true
	log.Info("simulated exposure started: %v", d)
	return true
}

func (s *Simulation) ShootStatus() ShootStatus {
	if !s.valid {
		return ShootStatus{Status: Idle}
	}
	elapsed := s.now().Sub(s.started)
	if elapsed >= s.duration {
		return ShootStatus{Status: Finished, Elapsed: elapsed}
	}
	return ShootStatus{Status: Running, Elapsed: elapsed, Remaining: s.duration - elapsed}
}

func (s *Simulation) WriteImage() WriteImageFunc {
	return func(sink FrameSink) bool {
		if !s.valid {
			return false
		}
		w := (sink.SubW() / sink.BinX()) * (sink.BPP() / 8)
		h := sink.SubH() / sink.BinY()
		sink.SetNAxis(2)
		sink.SetFrameBufferSize(w * h)
		buf := sink.FrameBuffer()
		for i := range buf {
			buf[i] = byte(s.rnd.Intn(255))
		}
		sink.SetImageExtension(ingest.ImageExtension)
		s.valid = false
		log.Live("simulated image written: %d bytes", len(buf))
		return true
	}
}

// SetupProperties registers nothing: the simulator has no device settings.
func (s *Simulation) SetupProperties(Registry) {}
