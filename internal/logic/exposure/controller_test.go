package exposure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/hw/gphoto"
)

// fakeShot reports a settable elapsed time.
type fakeShot struct {
	elapsed  time.Duration
	duration time.Duration
}

func (s *fakeShot) Elapsed() time.Duration  { return s.elapsed }
func (s *fakeShot) Duration() time.Duration { return s.duration }
func (s *fakeShot) File(context.Context) (*gphoto.CameraFile, error) {
	return &gphoto.CameraFile{Name: "a.jpg"}, nil
}

type shootCall struct {
	d          time.Duration
	mirrorLock bool
	lockFor    time.Duration
}

type fakeControl struct {
	calls []shootCall
	shot  *fakeShot
	err   error
}

func (f *fakeControl) Shoot(d time.Duration, mirrorLock bool, lockFor time.Duration) (gphoto.Shot, error) {
	f.calls = append(f.calls, shootCall{d, mirrorLock, lockFor})
	if f.err != nil {
		return nil, f.err
	}
	f.shot = &fakeShot{duration: d + lockFor}
	return f.shot, nil
}

func TestController_IdleWhenNeverArmed(t *testing.T) {
	c := NewController(&fakeControl{})
	for i := 0; i < 3; i++ {
		if st := c.Status(); st.Status != Idle || st.Elapsed != 0 || st.Remaining != 0 {
			t.Fatalf("Status = %+v, want zero Idle", st)
		}
	}
	if c.Pending() != nil {
		t.Error("Pending should be nil when idle")
	}
}

func TestController_Lifecycle(t *testing.T) {
	ctl := &fakeControl{}
	c := NewController(ctl)

	if !c.Shoot(2 * time.Second) {
		t.Fatal("Shoot from Idle should succeed")
	}
	st := c.Status()
	if st.Status != Running || st.Elapsed != 0 || st.Remaining != 2*time.Second {
		t.Errorf("after Shoot: %+v", st)
	}
	if c.Shoot(time.Second) {
		t.Error("second Shoot while pending should be rejected")
	}
	if len(ctl.calls) != 1 {
		t.Errorf("driver called %d times, want 1", len(ctl.calls))
	}

	var prevElapsed, prevRemaining time.Duration = -1, 1 << 62
	for _, e := range []time.Duration{500 * time.Millisecond, time.Second, 1900 * time.Millisecond} {
		ctl.shot.elapsed = e
		st := c.Status()
		if st.Status != Running {
			t.Fatalf("at %v: status %v, want running", e, st.Status)
		}
		if st.Elapsed < prevElapsed || st.Remaining > prevRemaining {
			t.Errorf("at %v: not monotonic: %+v", e, st)
		}
		prevElapsed, prevRemaining = st.Elapsed, st.Remaining
	}

	ctl.shot.elapsed = 2100 * time.Millisecond
	st = c.Status()
	if st.Status != Finished || st.Remaining != 0 || st.Elapsed < 2*time.Second {
		t.Errorf("after duration: %+v", st)
	}
	if again := c.Status(); again != st {
		t.Errorf("Status is not idempotent: %+v then %+v", st, again)
	}

	c.Release()
	if c.Status().Status != Idle {
		t.Error("Release should return to Idle")
	}
	if !c.Shoot(time.Second) {
		t.Error("Shoot after Release should succeed")
	}
}

func TestController_DriverErrorKeepsIdle(t *testing.T) {
	c := NewController(&fakeControl{err: errors.New("camera busy")})
	if c.Shoot(time.Second) {
		t.Fatal("Shoot should fail when the driver errors")
	}
	if c.Status().Status != Idle {
		t.Error("state should stay Idle")
	}
}

func TestController_MirrorLock(t *testing.T) {
	cases := []struct {
		name     string
		set      time.Duration
		wantLock bool
		wantFor  time.Duration
	}{
		{"disabled", 0, false, 0},
		{"three_seconds", 3 * time.Second, true, 3 * time.Second},
		{"clamped", time.Minute, true, MaxMirrorLock},
		{"negative", -time.Second, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctl := &fakeControl{}
			c := NewController(ctl)
			c.SetMirrorLock(tc.set)
			c.Shoot(time.Second)
			got := ctl.calls[0]
			if got.mirrorLock != tc.wantLock || got.lockFor != tc.wantFor {
				t.Errorf("driver got mirrorLock=%v for %v, want %v for %v",
					got.mirrorLock, got.lockFor, tc.wantLock, tc.wantFor)
			}
			// Total shot time includes the mirror-lock phase without a separate state.
			if st := c.Status(); st.Status != Running || st.Remaining != time.Second+tc.wantFor {
				t.Errorf("status = %+v", st)
			}
		})
	}
}
