package camera

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSimulation_Defaults(t *testing.T) {
	s := NewSimulation()
	if s.CurrentISO() != "200" || len(s.AvailableISO()) != 4 {
		t.Errorf("ISO = %q of %v", s.CurrentISO(), s.AvailableISO())
	}
	if s.CurrentFormat() != "RAW" || len(s.AvailableFormats()) != 2 {
		t.Errorf("format = %q of %v", s.CurrentFormat(), s.AvailableFormats())
	}
	if !s.SetISO("800") || s.CurrentISO() != "800" {
		t.Error("SetISO should always succeed")
	}
	if st := s.ShootStatus(); st.Status != Idle {
		t.Errorf("never armed: %+v", st)
	}
}

func TestSimulation_TwoSecondExposure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := NewSimulationWithClock(clock.now)

	if !s.Shoot(2 * time.Second) {
		t.Fatal("Shoot failed")
	}
	st := s.ShootStatus()
	if st.Status != Running || st.Elapsed != 0 || st.Remaining != 2*time.Second {
		t.Errorf("immediately after Shoot: %+v", st)
	}
	if s.Shoot(time.Second) {
		t.Error("Shoot while running should be rejected")
	}

	clock.advance(time.Second)
	mid := s.ShootStatus()
	if mid.Status != Running || mid.Elapsed < st.Elapsed || mid.Remaining > st.Remaining {
		t.Errorf("mid exposure: %+v", mid)
	}

	clock.advance(1100 * time.Millisecond)
	st = s.ShootStatus()
	if st.Status != Finished || st.Elapsed < 2*time.Second || st.Remaining != 0 {
		t.Errorf("after 2.1s: %+v", st)
	}

	sink := newTestSink()
	sink.subW, sink.subH, sink.binX, sink.binY, sink.bpp = 640, 480, 2, 2, 16
	if !s.WriteImage()(sink) {
		t.Fatal("WriteImage failed")
	}
	if want := (640 / 2) * (16 / 8) * (480 / 2); len(sink.buf) != want {
		t.Errorf("buffer size = %d, want %d", len(sink.buf), want)
	}
	if sink.ext != "fits" {
		t.Errorf("extension = %q", sink.ext)
	}
	if s.ShootStatus().Status != Idle {
		t.Error("status should be Idle after WriteImage")
	}
	if !s.Shoot(time.Second) {
		t.Error("Shoot after WriteImage should be accepted")
	}
}

func TestSimulation_WriteImageNeverArmed(t *testing.T) {
	s := NewSimulation()
	sink := newTestSink()
	if s.WriteImage()(sink) {
		t.Error("WriteImage without exposure should fail")
	}
	if sink.buf != nil {
		t.Error("sink should be untouched")
	}
}

func TestSimulation_RealClock(t *testing.T) {
	s := NewSimulation()
	s.Shoot(20 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if st := s.ShootStatus(); st.Status != Finished {
		t.Errorf("status = %+v, want finished", st)
	}
}

func TestSimulation_StatusIsSideEffectFree(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := NewSimulationWithClock(clock.now)
	s.Shoot(time.Second)
	a, b := s.ShootStatus(), s.ShootStatus()
	if a != b {
		t.Errorf("repeated queries differ: %+v vs %+v", a, b)
	}
}

func TestSimulation_BufferSizeFromGeometry(t *testing.T) {
	cases := []struct {
		name                        string
		subW, subH, binX, binY, bpp int
		want                        int
	}{
		{"full_8bit", 1280, 1024, 1, 1, 8, 1280 * 1024},
		{"bin2_16bit", 640, 480, 2, 2, 16, 320 * 2 * 240},
		{"odd_width_bin3", 100, 90, 3, 3, 16, 33 * 2 * 30},
		{"12bit_uses_whole_bytes", 640, 480, 2, 2, 12, 320 * 1 * 240},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(0, 0)}
			s := NewSimulationWithClock(clock.now)
			s.Shoot(time.Second)
			clock.advance(time.Second)

			sink := newTestSink()
			sink.subW, sink.subH, sink.binX, sink.binY, sink.bpp = tc.subW, tc.subH, tc.binX, tc.binY, tc.bpp
			if !s.WriteImage()(sink) {
				t.Fatal("WriteImage failed")
			}
			if len(sink.buf) != tc.want {
				t.Errorf("buffer size = %d, want %d", len(sink.buf), tc.want)
			}
		})
	}
}
