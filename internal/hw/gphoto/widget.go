package gphoto

import (
	"fmt"
)

// WidgetType is the kind tag of a device setting.
type WidgetType int

const (
	WidgetString WidgetType = iota
	WidgetRange
	WidgetToggle
	WidgetMenu
	WidgetButton
	WidgetDate
	WidgetWindow
	WidgetSection
)

func (t WidgetType) String() string {
	switch t {
	case WidgetString:
		return "string"
	case WidgetRange:
		return "range"
	case WidgetToggle:
		return "toggle"
	case WidgetMenu:
		return "menu"
	case WidgetButton:
		return "button"
	case WidgetDate:
		return "date"
	case WidgetWindow:
		return "window"
	case WidgetSection:
		return "section"
	default:
		return fmt.Sprintf("widget(%d)", int(t))
	}
}

// Access tells whether a widget may be written.
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

// RangeDescriptor is the (min, max, increment) triple of a Range widget.
type RangeDescriptor struct {
	Min, Max, Step float64
}

// Widget is one node of the device settings tree.
// Setters only stage a pending value; the owning Settings pushes it to the
// device on Save and calls Commit with whatever the device accepted.
type Widget struct {
	Name   string
	Label  string
	Type   WidgetType
	Access Access

	parent   *Widget
	children []*Widget

	value   interface{} // string, float64 or bool depending on Type
	pending interface{}
	rng     RangeDescriptor
	choices []string
}

// NewWidget creates a detached widget. value must match the kind:
// string for String/Menu/Date, float64 for Range, bool for Toggle, nil otherwise.
func NewWidget(name, label string, typ WidgetType, access Access, value interface{}) *Widget {
	return &Widget{Name: name, Label: label, Type: typ, Access: access, value: value}
}

// NewSection creates a section node holding children.
func NewSection(name, label string, children ...*Widget) *Widget {
	w := NewWidget(name, label, WidgetSection, ReadOnly, nil)
	for _, c := range children {
		w.AddChild(c)
	}
	return w
}

// NewRange creates a Range widget.
func NewRange(name, label string, access Access, r RangeDescriptor, current float64) *Widget {
	w := NewWidget(name, label, WidgetRange, access, current)
	w.rng = r
	return w
}

// NewMenu creates a Menu widget.
func NewMenu(name, label string, access Access, choices []string, current string) *Widget {
	w := NewWidget(name, label, WidgetMenu, access, current)
	w.choices = append([]string(nil), choices...)
	return w
}

// AddChild attaches c under w.
func (w *Widget) AddChild(c *Widget) {
	c.parent = w
	w.children = append(w.children, c)
}

// Parent returns the parent widget, nil for the root.
func (w *Widget) Parent() *Widget { return w.parent }

// Children returns the direct children.
func (w *Widget) Children() []*Widget { return w.children }

// ChildByName searches the whole subtree (depth first) for a widget named name.
func (w *Widget) ChildByName(name string) *Widget {
	for _, c := range w.children {
		if c.Name == name {
			return c
		}
		if found := c.ChildByName(name); found != nil {
			return found
		}
	}
	return nil
}

// AllChildren flattens the subtree below w in depth-first order.
func (w *Widget) AllChildren() []*Widget {
	var out []*Widget
	for _, c := range w.children {
		out = append(out, c)
		out = append(out, c.AllChildren()...)
	}
	return out
}

func (w *Widget) typeError(want WidgetType) error {
	return fmt.Errorf("%w: %s is %s, not %s", ErrWidgetType, w.Name, w.Type, want)
}

func (w *Widget) stage(v interface{}) error {
	if w.Access == ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, w.Name)
	}
	w.pending = v
	return nil
}

// Text returns the current value of a String widget.
func (w *Widget) Text() (string, error) {
	if w.Type != WidgetString {
		return "", w.typeError(WidgetString)
	}
	s, _ := w.value.(string)
	return s, nil
}

// SetText stages a new value for a String widget.
func (w *Widget) SetText(v string) error {
	if w.Type != WidgetString {
		return w.typeError(WidgetString)
	}
	return w.stage(v)
}

// Range returns the current value of a Range widget.
func (w *Widget) Range() (float64, error) {
	if w.Type != WidgetRange {
		return 0, w.typeError(WidgetRange)
	}
	f, _ := w.value.(float64)
	return f, nil
}

// RangeDescriptor returns min, max and increment of a Range widget.
func (w *Widget) RangeDescriptor() RangeDescriptor { return w.rng }

// SetRange stages a new value for a Range widget.
func (w *Widget) SetRange(v float64) error {
	if w.Type != WidgetRange {
		return w.typeError(WidgetRange)
	}
	return w.stage(v)
}

// Toggle returns the current value of a Toggle widget.
func (w *Widget) Toggle() (bool, error) {
	if w.Type != WidgetToggle {
		return false, w.typeError(WidgetToggle)
	}
	b, _ := w.value.(bool)
	return b, nil
}

// SetToggle stages a new value for a Toggle widget.
func (w *Widget) SetToggle(v bool) error {
	if w.Type != WidgetToggle {
		return w.typeError(WidgetToggle)
	}
	return w.stage(v)
}

// Menu returns the currently selected choice of a Menu widget.
func (w *Widget) Menu() (string, error) {
	if w.Type != WidgetMenu {
		return "", w.typeError(WidgetMenu)
	}
	s, _ := w.value.(string)
	return s, nil
}

// Choices returns the full choice list of a Menu widget.
func (w *Widget) Choices() []string { return w.choices }

// SetMenu stages a new choice for a Menu widget.
func (w *Widget) SetMenu(v string) error {
	if w.Type != WidgetMenu {
		return w.typeError(WidgetMenu)
	}
	return w.stage(v)
}

// Pending returns the staged value, if any.
func (w *Widget) Pending() (interface{}, bool) {
	return w.pending, w.pending != nil
}

// Commit stores the value the device reports and clears the staged one.
func (w *Widget) Commit(v interface{}) {
	w.value = v
	w.pending = nil
}

// Discard drops a staged value without touching the current one.
func (w *Widget) Discard() {
	w.pending = nil
}

// Value returns the raw current value.
func (w *Widget) Value() interface{} { return w.value }

// FormatValue renders v the way gphoto2 --set-config expects it.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float64:
		return fmt.Sprintf("%g", x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
