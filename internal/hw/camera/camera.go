package camera

import (
	"time"

	"github.com/cjeanneret/gphotoccd/internal/logic/exposure"
	"github.com/cjeanneret/gphotoccd/internal/logic/ingest"
	"github.com/cjeanneret/gphotoccd/internal/logic/reflector"
)

// Camera is the high-level interface the CCD device drives. It is
// implemented by Real (a gphoto2 camera) and Simulation (no hardware).
// Failures never cross this boundary as errors: they are logged and
// reported as false.
type Camera interface {
	AvailableISO() []string
	CurrentISO() string
	// SetISO returns true iff the camera reports the new value after saving.
	SetISO(iso string) bool

	AvailableFormats() []string
	CurrentFormat() string
	SetFormat(format string) bool

	// Shoot starts an exposure. It returns false if one is already pending.
	Shoot(d time.Duration) bool
	// ShootStatus is a pure query, Idle when never armed.
	ShootStatus() ShootStatus
	// WriteImage returns a one-shot callback filling a frame sink with the
	// finished exposure. The exposure is released once the callback ran.
	WriteImage() WriteImageFunc

	// SetupProperties registers the camera's own properties.
	SetupProperties(reg Registry)
}

type (
	Status      = exposure.Status
	ShootStatus = exposure.ShootStatus
	Registry    = reflector.Registry
)

const (
	Idle     = exposure.Idle
	Running  = exposure.Running
	Finished = exposure.Finished
)

// FrameSink is the host's frame chip: the ingestion target plus the
// requested geometry.
type FrameSink interface {
	ingest.FrameSink
	SubW() int
	SubH() int
	BinX() int
	BinY() int
	BPP() int
}

// WriteImageFunc fills sink and reports success.
type WriteImageFunc func(sink FrameSink) bool

// Property names registered outside the reflected settings.
const (
	PropISO        = "ISO"
	PropFormat     = "CAPTURE_FORMAT"
	PropMirrorLock = "MIRROR_LOCK"
	PropSerialPort = "DEVICE_PORT"

	GroupImage = "Image Settings"
	GroupMain  = "Main Control"
)
