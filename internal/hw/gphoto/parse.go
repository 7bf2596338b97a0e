package gphoto

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseConfigList builds a widget tree from `gphoto2 --list-all-config` output.
//
// Each entry looks like:
//
//	/main/imgsettings/iso
//	Label: ISO Speed
//	Readonly: 0
//	Type: RADIO
//	Current: 200
//	Choice: 0 100
//	Choice: 1 200
//	END
//
// Path components above the leaf become Section widgets.
func ParseConfigList(r io.Reader) (*Widget, error) {
	root := NewSection("main", "main")
	sections := map[string]*Widget{"/main": root}

	var (
		cur     *Widget
		path    string
		typ     string
		current string
		lineNo  int
	)

	finish := func() error {
		if cur == nil {
			return nil
		}
		if err := assignCurrent(cur, typ, current); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		parent := sectionFor(root, sections, path)
		parent.AddChild(cur)
		cur, path, typ, current = nil, "", "", ""
		return nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "/"):
			if cur != nil {
				return nil, fmt.Errorf("line %d: entry %s not terminated by END", lineNo, path)
			}
			path = line
			name := line[strings.LastIndex(line, "/")+1:]
			cur = &Widget{Name: name, Label: name, Access: ReadWrite}
		case line == "END":
			if err := finish(); err != nil {
				return nil, err
			}
		case cur == nil:
			// Noise outside an entry (warnings, blank lines).
			continue
		default:
			key, val, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			val = strings.TrimSpace(val)
			switch key {
			case "Label":
				cur.Label = val
			case "Readonly":
				if val == "1" {
					cur.Access = ReadOnly
				}
			case "Type":
				typ = val
				t, err := widgetTypeOf(val)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				cur.Type = t
			case "Current":
				current = val
			case "Bottom":
				cur.rng.Min, _ = strconv.ParseFloat(val, 64)
			case "Top":
				cur.rng.Max, _ = strconv.ParseFloat(val, 64)
			case "Step":
				cur.rng.Step, _ = strconv.ParseFloat(val, 64)
			case "Choice":
				// "Choice: <index> <value>"; the value may contain spaces.
				_, choice, _ := strings.Cut(val, " ")
				cur.choices = append(cur.choices, choice)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cur != nil {
		return nil, fmt.Errorf("entry %s not terminated by END", path)
	}
	return root, nil
}

func widgetTypeOf(s string) (WidgetType, error) {
	switch s {
	case "TEXT":
		return WidgetString, nil
	case "RANGE":
		return WidgetRange, nil
	case "TOGGLE":
		return WidgetToggle, nil
	case "RADIO", "MENU":
		return WidgetMenu, nil
	case "BUTTON":
		return WidgetButton, nil
	case "DATE":
		return WidgetDate, nil
	case "WINDOW":
		return WidgetWindow, nil
	case "SECTION":
		return WidgetSection, nil
	default:
		return 0, fmt.Errorf("unknown widget type %q", s)
	}
}

func assignCurrent(w *Widget, typ, current string) error {
	switch w.Type {
	case WidgetString, WidgetMenu, WidgetDate:
		w.value = current
	case WidgetRange:
		f, err := strconv.ParseFloat(current, 64)
		if err != nil && current != "" {
			return fmt.Errorf("range value %q: %w", current, err)
		}
		w.value = f
	case WidgetToggle:
		// gphoto2 prints 2 for "unknown"; treat anything but 1 as off.
		w.value = current == "1"
	case WidgetButton, WidgetWindow, WidgetSection:
		w.value = nil
	default:
		return fmt.Errorf("unhandled type %s", typ)
	}
	return nil
}

func sectionFor(root *Widget, sections map[string]*Widget, path string) *Widget {
	dir := path[:strings.LastIndex(path, "/")]
	if s, ok := sections[dir]; ok {
		return s
	}
	parent := sectionFor(root, sections, dir)
	name := dir[strings.LastIndex(dir, "/")+1:]
	s := NewSection(name, name)
	parent.AddChild(s)
	sections[dir] = s
	return s
}

// ParseAutodetect returns (model, port) pairs from `gphoto2 --auto-detect`.
func ParseAutodetect(r io.Reader) [][2]string {
	var out [][2]string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "Model") || strings.HasPrefix(line, "---") {
			continue
		}
		// Model names contain spaces; the port is the last field.
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		port := fields[len(fields)-1]
		model := strings.TrimSpace(strings.TrimSuffix(line, port))
		out = append(out, [2]string{model, port})
	}
	return out
}
