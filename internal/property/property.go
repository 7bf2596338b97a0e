// Package property is the host-side registry of generic device properties:
// text, number and one-of-many switch vectors, each with an update callback
// that reports whether the device accepted the new value.
package property

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrReadOnly        = errors.New("property is read-only")
	ErrUpdateRejected  = errors.New("update rejected by device")
	ErrInvalidValue    = errors.New("invalid value")
)

// Access mirrors the permission of a property.
type Access int

const (
	ReadOnly Access = iota
	WriteOnly
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "ro"
	case WriteOnly:
		return "wo"
	default:
		return "rw"
	}
}

// State is the status light of a property.
type State int

const (
	Idle State = iota
	Ok
	Busy
	Alert
)

func (s State) String() string {
	switch s {
	case Ok:
		return "ok"
	case Busy:
		return "busy"
	case Alert:
		return "alert"
	default:
		return "idle"
	}
}

// Kind is the payload type of a property.
type Kind string

const (
	KindText   Kind = "text"
	KindNumber Kind = "number"
	KindSwitch Kind = "switch"
)

// Identity names a property.
type Identity struct {
	Device string
	Name   string
	Label  string
	Group  string
	Access Access
}

// Switch is one element of a switch vector.
type Switch struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	On    bool   `json:"on"`
}

// Snapshot is a read-only copy of a property, safe to serialize.
type Snapshot struct {
	Device   string   `json:"device"`
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Group    string   `json:"group"`
	Access   string   `json:"access"`
	State    string   `json:"state"`
	Kind     Kind     `json:"kind"`
	Value    string   `json:"value"`
	Min      float64  `json:"min,omitempty"`
	Max      float64  `json:"max,omitempty"`
	Step     float64  `json:"step,omitempty"`
	Switches []Switch `json:"switches,omitempty"`
}

type entry struct {
	id    Identity
	kind  Kind
	state State

	text     string
	onText   func(string) bool
	num      float64
	min      float64
	max      float64
	step     float64
	onNumber func(float64) bool
	switches []Switch
	onSwitch func(string) bool
}

func (e *entry) value() string {
	switch e.kind {
	case KindText:
		return e.text
	case KindNumber:
		return strconv.FormatFloat(e.num, 'g', -1, 64)
	default:
		for _, s := range e.switches {
			if s.On {
				return s.Name
			}
		}
		return ""
	}
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Device:   e.id.Device,
		Name:     e.id.Name,
		Label:    e.id.Label,
		Group:    e.id.Group,
		Access:   e.id.Access.String(),
		State:    e.state.String(),
		Kind:     e.kind,
		Value:    e.value(),
		Min:      e.min,
		Max:      e.max,
		Step:     e.step,
		Switches: append([]Switch(nil), e.switches...),
	}
}

// Registry holds the properties of one device connection.
type Registry struct {
	mu        sync.Mutex
	order     []string
	entries   map[string]*entry
	listeners []func(Snapshot)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.id.Name]; !exists {
		r.order = append(r.order, e.id.Name)
	}
	r.entries[e.id.Name] = e
}

// AddText registers a text property.
func (r *Registry) AddText(id Identity, value string, onUpdate func(string) bool) {
	r.add(&entry{id: id, kind: KindText, text: value, onText: onUpdate})
}

// AddNumber registers a numeric property with its bounds.
func (r *Registry) AddNumber(id Identity, min, max, step, value float64, onUpdate func(float64) bool) {
	r.add(&entry{id: id, kind: KindNumber, min: min, max: max, step: step, num: value, onNumber: onUpdate})
}

// AddSwitch registers an empty one-of-many switch vector; choices are added with AddChoice.
func (r *Registry) AddSwitch(id Identity, onUpdate func(selected string) bool) {
	r.add(&entry{id: id, kind: KindSwitch, onSwitch: onUpdate})
}

// AddChoice appends a choice to a switch vector. Turning a choice on turns the others off.
func (r *Registry) AddChoice(property, name, label string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[property]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, property)
	}
	if e.kind != KindSwitch {
		return fmt.Errorf("%w: %s is %s", ErrInvalidValue, property, e.kind)
	}
	if on {
		for i := range e.switches {
			e.switches[i].On = false
		}
	}
	e.switches = append(e.switches, Switch{Name: name, Label: label, On: on})
	return nil
}

// OnChange registers a listener called after every accepted or rejected update.
func (r *Registry) OnChange(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Update applies a client-requested value. The callback runs without the
// registry lock held. On rejection the previous value is kept and the
// property goes to Alert.
func (r *Registry) Update(name, value string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	if e.id.Access == ReadOnly {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	kind := e.kind
	onText, onNumber, onSwitch := e.onText, e.onNumber, e.onSwitch
	min, max := e.min, e.max
	known := false
	for _, s := range e.switches {
		known = known || s.Name == value
	}
	e.state = Busy
	r.mu.Unlock()

	var (
		accepted bool
		num      float64
		err      error
	)
	switch kind {
	case KindText:
		accepted = onText == nil || onText(value)
	case KindNumber:
		num, err = strconv.ParseFloat(value, 64)
		if err == nil && (num < min || num > max) {
			err = fmt.Errorf("%v outside [%v, %v]", num, min, max)
		}
		if err == nil {
			accepted = onNumber == nil || onNumber(num)
		}
	case KindSwitch:
		if !known {
			err = fmt.Errorf("no choice %q", value)
		} else {
			accepted = onSwitch == nil || onSwitch(value)
		}
	}

	r.mu.Lock()
	if err != nil {
		e.state = Alert
		snap := e.snapshot()
		listeners := r.listeners
		r.mu.Unlock()
		notify(listeners, snap)
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, name, err)
	}
	if accepted {
		switch kind {
		case KindText:
			e.text = value
		case KindNumber:
			e.num = num
		case KindSwitch:
			for i := range e.switches {
				e.switches[i].On = e.switches[i].Name == value
			}
		}
		e.state = Ok
	} else {
		e.state = Alert
	}
	snap := e.snapshot()
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, snap)
	if !accepted {
		return fmt.Errorf("%w: %s=%s", ErrUpdateRejected, name, value)
	}
	return nil
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

// Get returns a snapshot of one property.
func (r *Registry) Get(name string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Snapshot returns every property in registration order.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].snapshot())
	}
	return out
}

// Len returns the number of registered properties.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear removes every property (on disconnect). Listeners are kept.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.entries = make(map[string]*entry)
}

// SaveValues writes the values of every writable property as YAML.
func (r *Registry) SaveValues(w io.Writer) error {
	r.mu.Lock()
	values := make(map[string]string)
	for name, e := range r.entries {
		if e.id.Access != ReadOnly {
			values[name] = e.value()
		}
	}
	r.mu.Unlock()

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(values)
}

// LoadValues re-applies values saved by SaveValues through the normal update
// path. Unknown names are skipped; every failed update is returned joined.
func (r *Registry) LoadValues(rd io.Reader) error {
	values := make(map[string]string)
	if err := yaml.NewDecoder(rd).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode property values: %w", err)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		cur, ok := r.Get(name)
		if !ok || cur.Value == values[name] {
			continue
		}
		if err := r.Update(name, values[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
