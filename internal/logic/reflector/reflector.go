// Package reflector projects the device settings tree into generic host
// properties. The vocabulary of settings differs per camera model, so the
// projection is driven by each widget's type tag.
package reflector

import (
	"math"

	"github.com/cjeanneret/gphotoccd/internal/debug"
	"github.com/cjeanneret/gphotoccd/internal/hw/gphoto"
	"github.com/cjeanneret/gphotoccd/internal/property"
)

var log = debug.Module("reflector")

// DefaultGroup is used for widgets without a labelled parent.
const DefaultGroup = "Settings"

// Toggle widgets are surfaced as a two-choice switch.
const (
	ToggleOn  = "on"
	ToggleOff = "off"
)

// Registry is the part of the host property registry the reflector needs.
type Registry interface {
	AddText(id property.Identity, value string, onUpdate func(string) bool)
	AddNumber(id property.Identity, min, max, step, value float64, onUpdate func(float64) bool)
	AddSwitch(id property.Identity, onUpdate func(selected string) bool)
	AddChoice(property, name, label string, on bool) error
}

// Reflector registers one property per supported widget.
type Reflector struct {
	settings gphoto.Settings
	device   string
	used     map[string]bool
}

// New creates a reflector for device. Widgets named in used already have a
// dedicated control and are never reflected.
func New(settings gphoto.Settings, device string, used ...string) *Reflector {
	r := &Reflector{settings: settings, device: device, used: make(map[string]bool, len(used))}
	for _, name := range used {
		r.used[name] = true
	}
	return r
}

// Reflect walks the whole tree and registers properties. It returns the
// number of properties created.
func (r *Reflector) Reflect(reg Registry) int {
	root := r.settings.Widgets()
	if root == nil {
		return 0
	}
	n := 0
	for _, w := range root.AllChildren() {
		if r.used[w.Name] {
			log.Verbose("skipping %s: dedicated control", w.Name)
			continue
		}
		if r.reflect(reg, w) {
			n++
		}
	}
	log.Info("reflected %d settings", n)
	return n
}

func (r *Reflector) reflect(reg Registry, w *gphoto.Widget) bool {
	switch w.Type {
	case gphoto.WidgetString:
		r.addString(reg, w)
	case gphoto.WidgetRange:
		r.addRange(reg, w)
	case gphoto.WidgetToggle:
		r.addToggle(reg, w)
	case gphoto.WidgetMenu:
		r.addMenu(reg, w)
	case gphoto.WidgetButton, gphoto.WidgetDate, gphoto.WidgetWindow, gphoto.WidgetSection:
		return false
	default:
		log.Warn("unknown widget type %v for %s", w.Type, w.Name)
		return false
	}
	log.Verbose("reflected %s (%s)", w.Name, w.Type)
	return true
}

func (r *Reflector) identity(w *gphoto.Widget) property.Identity {
	group := DefaultGroup
	if p := w.Parent(); p != nil && p.Label != "" && p.Parent() != nil {
		group = p.Label
	}
	access := property.ReadWrite
	if w.Access == gphoto.ReadOnly {
		access = property.ReadOnly
	}
	return property.Identity{Device: r.device, Name: w.Name, Label: w.Label, Group: group, Access: access}
}

// commit persists a staged value. Verification is left to the caller.
func (r *Reflector) commit(w *gphoto.Widget, stageErr error) bool {
	if stageErr != nil {
		log.Error(stageErr)
		return false
	}
	if err := r.settings.Save(); err != nil {
		log.Error(err)
	}
	return true
}

func (r *Reflector) addString(reg Registry, w *gphoto.Widget) {
	cur, _ := w.Text()
	reg.AddText(r.identity(w), cur, func(v string) bool {
		if !r.commit(w, w.SetText(v)) {
			return false
		}
		got, _ := w.Text()
		return got == v
	})
}

func (r *Reflector) addRange(reg Registry, w *gphoto.Widget) {
	cur, _ := w.Range()
	rng := w.RangeDescriptor()
	reg.AddNumber(r.identity(w), rng.Min, rng.Max, rng.Step, cur, func(v float64) bool {
		if !r.commit(w, w.SetRange(v)) {
			return false
		}
		got, _ := w.Range()
		return math.Abs(got-v) < 1e-9
	})
}

func (r *Reflector) addToggle(reg Registry, w *gphoto.Widget) {
	cur, _ := w.Toggle()
	reg.AddSwitch(r.identity(w), func(selected string) bool {
		v := selected == ToggleOn
		if !r.commit(w, w.SetToggle(v)) {
			return false
		}
		got, _ := w.Toggle()
		return got == v
	})
	_ = reg.AddChoice(w.Name, ToggleOn, "On", cur)
	_ = reg.AddChoice(w.Name, ToggleOff, "Off", !cur)
}

func (r *Reflector) addMenu(reg Registry, w *gphoto.Widget) {
	cur, _ := w.Menu()
	reg.AddSwitch(r.identity(w), func(selected string) bool {
		if !r.commit(w, w.SetMenu(selected)) {
			return false
		}
		got, _ := w.Menu()
		return got == selected
	})
	for _, c := range w.Choices() {
		_ = reg.AddChoice(w.Name, c, c, c == cur)
	}
}
