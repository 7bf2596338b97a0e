package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/ccd"
	"github.com/cjeanneret/gphotoccd/internal/logic/capture"
	"github.com/cjeanneret/gphotoccd/internal/property"
)

type fakeSequencer struct {
	mu      sync.Mutex
	params  []capture.Params
	started chan struct{}
	release chan struct{}
	err     error

	cancelled chan struct{} // closed when Run returns because ctx was cancelled
}

func (f *fakeSequencer) Run(ctx context.Context, p capture.Params) error {
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			if f.cancelled != nil {
				close(f.cancelled)
			}
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeSequencer) Running() bool { return false }

func (f *fakeSequencer) calls() []capture.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture.Params(nil), f.params...)
}

func testRegistry(t *testing.T) *property.Registry {
	t.Helper()
	reg := property.NewRegistry()
	id := func(name string, access property.Access) property.Identity {
		return property.Identity{Device: "GPhoto CCD", Name: name, Group: "Image Settings", Access: access}
	}
	reg.AddSwitch(id("ISO", property.ReadWrite), func(string) bool { return true })
	reg.AddChoice("ISO", "100", "100", true)
	reg.AddChoice("ISO", "200", "200", false)
	reg.AddNumber(id("MIRROR_LOCK", property.ReadWrite), 0, 10, 1, 0, func(float64) bool { return true })
	reg.AddText(id("serialnumber", property.ReadOnly), "123", nil)
	reg.AddText(id("artist", property.ReadWrite), "", func(v string) bool { return v != "nobody" })
	return reg
}

type fakeDevice struct {
	mu       sync.Mutex
	aborts   int
	abortErr error
}

func (d *fakeDevice) Status() ccd.Status {
	return ccd.Status{Connected: true, Simulated: true, Phase: "idle"}
}

func (d *fakeDevice) AbortExposure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborts++
	return d.abortErr
}

func (d *fakeDevice) abortCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborts
}

func newTestMux(t *testing.T, seq Sequencer) (http.Handler, *property.Registry) {
	t.Helper()
	mux, reg, _ := newTestMuxWithDevice(t, seq)
	return mux, reg
}

func newTestMuxWithDevice(t *testing.T, seq Sequencer) (http.Handler, *property.Registry, *fakeDevice) {
	t.Helper()
	reg := testRegistry(t)
	dev := &fakeDevice{}
	srv := NewServer(":0", NewStatusBroadcaster(), reg, dev, seq)
	return srv.Mux(), reg, dev
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ---------- properties ----------

func TestHandleProperties(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	w := do(t, mux, http.MethodGet, "/properties", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var props []property.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&props); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(props) != 4 || props[0].Name != "ISO" || len(props[0].Switches) != 2 {
		t.Errorf("props = %+v", props)
	}
}

func TestHandleSetProperty(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"switch", "/properties/ISO", `{"value":"200"}`, http.StatusOK},
		{"number", "/properties/MIRROR_LOCK", `{"value":"3"}`, http.StatusOK},
		{"out_of_range", "/properties/MIRROR_LOCK", `{"value":"11"}`, http.StatusBadRequest},
		{"unknown_choice", "/properties/ISO", `{"value":"6400"}`, http.StatusBadRequest},
		{"unknown_property", "/properties/NOPE", `{"value":"1"}`, http.StatusNotFound},
		{"read_only", "/properties/serialnumber", `{"value":"1"}`, http.StatusForbidden},
		{"rejected", "/properties/artist", `{"value":"nobody"}`, http.StatusUnprocessableEntity},
		{"missing_value", "/properties/ISO", `{}`, http.StatusBadRequest},
		{"invalid_json", "/properties/ISO", `not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, _ := newTestMux(t, nil)
			w := do(t, mux, http.MethodPost, tc.path, tc.body)
			if w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d (%s)", w.Code, tc.wantCode, w.Body.String())
			}
		})
	}
}

func TestHandleSetProperty_ReturnsSnapshot(t *testing.T) {
	mux, reg := newTestMux(t, nil)
	w := do(t, mux, http.MethodPost, "/properties/ISO", `{"value":"200"}`)
	var snap property.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Value != "200" || snap.State != "ok" {
		t.Errorf("snapshot = %+v", snap)
	}
	if got, _ := reg.Get("ISO"); got.Value != "200" {
		t.Errorf("registry ISO = %q", got.Value)
	}
}

func TestHandleSetProperty_OversizedBody(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	big := `{"value":"` + strings.Repeat("x", 2<<20) + `"}`
	w := do(t, mux, http.MethodPost, "/properties/artist", big)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (oversized body)", w.Code, http.StatusBadRequest)
	}
}

// ---------- exposure ----------

func TestHandleExposureStatus(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	w := do(t, mux, http.MethodGet, "/exposure", "")
	var st ccd.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Connected || st.Phase != "idle" {
		t.Errorf("status = %+v", st)
	}
}

func TestHandleExposure_Valid(t *testing.T) {
	seq := &fakeSequencer{started: make(chan struct{})}
	mux, _ := newTestMux(t, seq)
	w := do(t, mux, http.MethodPost, "/exposure", `{"seconds":2.5,"count":3,"delay_seconds":1}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" {
		t.Errorf("response status = %q", resp["status"])
	}

	select {
	case <-seq.started:
	case <-time.After(time.Second):
		t.Fatal("sequence never started")
	}
	got := seq.calls()[0]
	want := capture.Params{Exposure: 2500 * time.Millisecond, Count: 3, Delay: time.Second}
	if got != want {
		t.Errorf("params = %+v, want %+v", got, want)
	}
}

func TestHandleExposure_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid_json", "not json"},
		{"zero_seconds", `{"seconds":0}`},
		{"too_long", `{"seconds":7200}`},
		{"negative_count", `{"seconds":1,"count":-1}`},
		{"negative_delay", `{"seconds":1,"delay_seconds":-2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, _ := newTestMux(t, &fakeSequencer{})
			if w := do(t, mux, http.MethodPost, "/exposure", tc.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleExposure_NoSequencer(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	if w := do(t, mux, http.MethodPost, "/exposure", `{"seconds":1}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleExposure_Concurrent(t *testing.T) {
	seq := &fakeSequencer{started: make(chan struct{}), release: make(chan struct{})}
	mux, _ := newTestMux(t, seq)

	if w := do(t, mux, http.MethodPost, "/exposure", `{"seconds":1}`); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d", w.Code)
	}
	<-seq.started

	if w := do(t, mux, http.MethodPost, "/exposure", `{"seconds":1}`); w.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w.Code, http.StatusConflict)
	}
	close(seq.release)
}

func TestHandleExposure_FailureIsBroadcast(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	seq := &fakeSequencer{err: errors.New("camera gone")}
	h := NewHandlers(b, testRegistry(t), nil, seq, nil)
	req := httptest.NewRequest(http.MethodPost, "/exposure", bytes.NewReader([]byte(`{"seconds":1}`)))
	w := httptest.NewRecorder()
	h.HandleExposure(w, req)

	evt := receiveEvent(t, ch)
	if evt.Level != "error" || !strings.Contains(evt.Msg, "camera gone") {
		t.Errorf("event = %+v", evt)
	}
}

func TestHandleAbort_CancelsSequence(t *testing.T) {
	seq := &fakeSequencer{started: make(chan struct{}), release: make(chan struct{}), cancelled: make(chan struct{})}
	mux, _, dev := newTestMuxWithDevice(t, seq)

	if w := do(t, mux, http.MethodPost, "/exposure", `{"seconds":60,"count":5}`); w.Code != http.StatusAccepted {
		t.Fatalf("start: status = %d", w.Code)
	}
	<-seq.started

	w := do(t, mux, http.MethodDelete, "/exposure", "")
	if w.Code != http.StatusOK {
		t.Fatalf("abort: status = %d (%s)", w.Code, w.Body.String())
	}
	select {
	case <-seq.cancelled:
	case <-time.After(time.Second):
		t.Fatal("sequence was not cancelled")
	}
	if dev.abortCount() != 1 {
		t.Errorf("aborts = %d, want 1", dev.abortCount())
	}
}

func TestHandleAbort(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"idle", nil, http.StatusOK},
		{"not_connected", ccd.ErrNotConnected, http.StatusServiceUnavailable},
		{"other_error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, _, dev := newTestMuxWithDevice(t, nil)
			dev.abortErr = tc.err
			if w := do(t, mux, http.MethodDelete, "/exposure", ""); w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if dev.abortCount() != 1 {
				t.Errorf("aborts = %d, want 1", dev.abortCount())
			}
		})
	}
}

func TestHandleAbort_NoDevice(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), testRegistry(t), nil, nil, nil)
	w := httptest.NewRecorder()
	h.HandleAbort(w, httptest.NewRequest(http.MethodDelete, "/exposure", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ---------- index ----------

func TestServeIndex(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	w := do(t, mux, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestUnknownRoute(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	if w := do(t, mux, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
