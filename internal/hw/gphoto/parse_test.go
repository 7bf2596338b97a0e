package gphoto

import (
	"strings"
	"testing"
)

const sampleConfig = `/main/actions/autofocusdrive
Label: Drive Nikon DSLR Autofocus
Readonly: 0
Type: TOGGLE
Current: 0
END
/main/settings/datetime
Label: Camera Date and Time
Readonly: 0
Type: DATE
Current: 1476893470
Printable: Wed Oct 19 18:11:10 2016
END
/main/settings/artist
Label: Artist
Readonly: 0
Type: TEXT
Current: Marco
END
/main/imgsettings/iso
Label: ISO Speed
Readonly: 0
Type: RADIO
Current: 200
Choice: 0 100
Choice: 1 200
Choice: 2 400
END
/main/capturesettings/imagequality
Label: Image Quality
Readonly: 0
Type: RADIO
Current: NEF (Raw)
Choice: 0 JPEG Basic
Choice: 1 NEF (Raw)
Choice: 2 NEF+Fine
END
/main/capturesettings/exposurecompensation
Label: Exposure Compensation
Readonly: 0
Type: RANGE
Current: -1.3
Bottom: -5
Top: 5
Step: 0.333
END
/main/status/serialnumber
Label: Serial Number
Readonly: 1
Type: TEXT
Current: 3001234
END
`

func TestParseConfigList_Tree(t *testing.T) {
	root, err := ParseConfigList(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfigList: %v", err)
	}

	sections := root.Children()
	if len(sections) != 5 {
		t.Fatalf("sections = %d, want 5 (actions, settings, imgsettings, capturesettings, status)", len(sections))
	}
	if got := len(root.AllChildren()); got != 12 {
		t.Errorf("AllChildren = %d, want 12 (5 sections + 7 widgets)", got)
	}

	iso := root.ChildByName("iso")
	if iso == nil {
		t.Fatal("iso widget not found")
	}
	if iso.Type != WidgetMenu {
		t.Errorf("iso type = %v, want menu", iso.Type)
	}
	if iso.Parent().Name != "imgsettings" {
		t.Errorf("iso parent = %q, want imgsettings", iso.Parent().Name)
	}
	if v, _ := iso.Menu(); v != "200" {
		t.Errorf("iso = %q, want 200", v)
	}
	if got := iso.Choices(); len(got) != 3 || got[2] != "400" {
		t.Errorf("iso choices = %v", got)
	}
}

func TestParseConfigList_Kinds(t *testing.T) {
	root, err := ParseConfigList(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfigList: %v", err)
	}

	cases := []struct {
		name string
		typ  WidgetType
	}{
		{"autofocusdrive", WidgetToggle},
		{"datetime", WidgetDate},
		{"artist", WidgetString},
		{"imagequality", WidgetMenu},
		{"exposurecompensation", WidgetRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := root.ChildByName(tc.name)
			if w == nil {
				t.Fatalf("%s not found", tc.name)
			}
			if w.Type != tc.typ {
				t.Errorf("type = %v, want %v", w.Type, tc.typ)
			}
		})
	}

	ec := root.ChildByName("exposurecompensation")
	if v, _ := ec.Range(); v != -1.3 {
		t.Errorf("exposurecompensation = %v, want -1.3", v)
	}
	if r := ec.RangeDescriptor(); r.Min != -5 || r.Max != 5 || r.Step != 0.333 {
		t.Errorf("range = %+v", r)
	}
	if q, _ := root.ChildByName("imagequality").Menu(); q != "NEF (Raw)" {
		t.Errorf("choice with spaces = %q, want \"NEF (Raw)\"", q)
	}
	if root.ChildByName("serialnumber").Access != ReadOnly {
		t.Error("serialnumber should be read-only")
	}
}

func TestParseConfigList_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"unterminated", "/main/a/b\nLabel: B\nType: TEXT\n"},
		{"unknown_type", "/main/a/b\nType: HOLOGRAM\nEND\n"},
		{"bad_range", "/main/a/b\nType: RANGE\nCurrent: abc\nEND\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseConfigList(strings.NewReader(tc.input)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseAutodetect(t *testing.T) {
	out := `Model                          Port
----------------------------------------------------------
Nikon DSC D90 (PTP mode)       usb:001,005
`
	cams := ParseAutodetect(strings.NewReader(out))
	if len(cams) != 1 {
		t.Fatalf("cameras = %d, want 1", len(cams))
	}
	if cams[0][0] != "Nikon DSC D90 (PTP mode)" || cams[0][1] != "usb:001,005" {
		t.Errorf("camera = %q", cams[0])
	}

	none := "Model                          Port\n----------------------------------------------------------\n"
	if got := ParseAutodetect(strings.NewReader(none)); len(got) != 0 {
		t.Errorf("expected no cameras, got %v", got)
	}
}
