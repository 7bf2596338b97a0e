// Package gphoto is the boundary to the camera driver: device settings,
// capture control and the widget tree. The concrete driver shells out to
// the gphoto2 command-line tool.
package gphoto

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNoCamera is returned by Autodetect when no camera is attached.
	ErrNoCamera = errors.New("unable to find camera")
	// ErrTransferStall is returned when the captured file does not arrive in time.
	ErrTransferStall = errors.New("image transfer stalled")
	// ErrWidgetType is returned by typed accessors used on the wrong widget kind.
	ErrWidgetType = errors.New("wrong widget type")
	// ErrReadOnly is returned when staging a value on a read-only widget.
	ErrReadOnly = errors.New("widget is read-only")
	// ErrUnknownWidget is returned when a named widget is not in the tree.
	ErrUnknownWidget = errors.New("unknown widget")
	// ErrCameraBusy is returned by Save while a capture holds the camera.
	ErrCameraBusy = errors.New("camera busy with a capture")
)

// Widget names surfaced by dedicated ISO and format controls.
const (
	ISOWidget = "iso"
)

// FormatWidgets lists the widget names vendors use for the capture format.
var FormatWidgets = []string{"imageformat", "imagequality"}

// Settings is the device settings accessor.
type Settings interface {
	ISOChoices() []string
	ISO() string
	SetISO(iso string)
	FormatChoices() []string
	Format() string
	SetFormat(format string)
	// Widgets returns the root of the settings tree.
	Widgets() *Widget
	NeedsSerialPort() bool
	SetSerialPort(port string)
	// Save pushes every staged widget value to the device and re-reads the tree.
	Save() error
}

// CameraFile is a downloaded capture.
type CameraFile struct {
	Name string // file name as reported by the camera, e.g. "DSC_0001.NEF"
	Data []byte
}

// Shot is the handle to an exposure in progress.
type Shot interface {
	Elapsed() time.Duration
	// Duration is the total time the shot takes, mirror lock included.
	Duration() time.Duration
	// File blocks until the captured file is downloaded or ctx is done.
	File(ctx context.Context) (*CameraFile, error)
}

// Control is the device control accessor.
type Control interface {
	Shoot(d time.Duration, mirrorLock bool, mirrorLockDuration time.Duration) (Shot, error)
}

// Device is one autodetected camera.
type Device interface {
	Settings() Settings
	Control() Control
	Close() error
}

// Driver finds cameras.
type Driver interface {
	Autodetect(ctx context.Context) (Device, error)
}

// IsComposite reports whether a capture format yields more than one file
// per exposure, e.g. "RAW+JPEG" or "RAW + Large Fine JPEG".
func IsComposite(format string) bool {
	return strings.Contains(format, "+")
}
