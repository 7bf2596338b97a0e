package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/ccd"
	"github.com/cjeanneret/gphotoccd/internal/logic/capture"
	"github.com/cjeanneret/gphotoccd/internal/property"
)

const maxBodyBytes = 1 << 20

// Properties is the property registry as seen by the web layer.
type Properties interface {
	Snapshot() []property.Snapshot
	Get(name string) (property.Snapshot, bool)
	Update(name, value string) error
}

// Device is the CCD device as seen by the web layer.
type Device interface {
	Status() ccd.Status
	AbortExposure() error
}

// Sequencer runs exposure sequences.
type Sequencer interface {
	Run(ctx context.Context, p capture.Params) error
	Running() bool
}

// ExposureRequest is the body of POST /exposure.
type ExposureRequest struct {
	Seconds      float64 `json:"seconds"`
	Count        int     `json:"count"`
	DelaySeconds float64 `json:"delay_seconds"`
}

// Params converts the request into sequence parameters. Count defaults to 1.
func (r ExposureRequest) Params() capture.Params {
	count := r.Count
	if count == 0 {
		count = 1
	}
	return capture.Params{
		Exposure: time.Duration(r.Seconds * float64(time.Second)),
		Count:    count,
		Delay:    time.Duration(r.DelaySeconds * float64(time.Second)),
	}
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Properties  Properties
	Device      Device
	Sequence    Sequencer
	staticFS    fs.FS

	runningMu sync.Mutex
	running   bool
	cancel    context.CancelFunc // cancels the running sequence
	baseCtx   context.Context
}

// NewHandlers creates handlers with the given dependencies.
// If seq is nil, POST /exposure returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, props Properties, dev Device, seq Sequencer, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Properties:  props,
		Device:      dev,
		Sequence:    seq,
		staticFS:    staticFS,
		baseCtx:     context.Background(),
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleProperties handles GET /properties.
func (h *Handlers) HandleProperties(w http.ResponseWriter, r *http.Request) {
	props := h.Properties.Snapshot()
	if props == nil {
		props = []property.Snapshot{}
	}
	writeJSON(w, http.StatusOK, props)
}

// HandleSetProperty handles POST /properties/{name}.
func (h *Handlers) HandleSetProperty(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Value *string `json:"value"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
		http.Error(w, `body must be {"value": "..."}`, http.StatusBadRequest)
		return
	}

	if err := h.Properties.Update(name, *body.Value); err != nil {
		log.Warn("set %s=%q: %v", name, *body.Value, err)
		http.Error(w, err.Error(), propertyErrorStatus(err))
		return
	}
	snap, _ := h.Properties.Get(name)
	writeJSON(w, http.StatusOK, snap)
}

func propertyErrorStatus(err error) int {
	switch {
	case errors.Is(err, property.ErrUnknownProperty):
		return http.StatusNotFound
	case errors.Is(err, property.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, property.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, property.ErrUpdateRejected):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// HandleExposureStatus handles GET /exposure.
func (h *Handlers) HandleExposureStatus(w http.ResponseWriter, r *http.Request) {
	if h.Device == nil {
		http.Error(w, "device not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Device.Status())
}

// HandleAbort handles DELETE /exposure: it cancels the running sequence, if
// any, then aborts the exposure in progress.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if h.Device == nil {
		http.Error(w, "device not configured", http.StatusServiceUnavailable)
		return
	}
	h.runningMu.Lock()
	cancel := h.cancel
	h.runningMu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := h.Device.AbortExposure(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ccd.ErrNotConnected) {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), code)
		return
	}
	h.Broadcaster.Broadcast("warn", "Exposure aborted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// HandleExposure handles POST /exposure to start a sequence.
func (h *Handlers) HandleExposure(w http.ResponseWriter, r *http.Request) {
	var req ExposureRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	params := req.Params()
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Sequence == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running || h.Sequence.Running() {
		h.runningMu.Unlock()
		http.Error(w, "exposure already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(h.baseCtx)
	h.running = true
	h.cancel = cancel
	h.runningMu.Unlock()

	go func() {
		defer func() {
			cancel()
			h.runningMu.Lock()
			h.running = false
			h.cancel = nil
			h.runningMu.Unlock()
		}()

		err := h.Sequence.Run(ctx, params)
		switch {
		case errors.Is(err, context.Canceled):
			h.Broadcaster.Broadcast("warn", "Sequence cancelled")
		case err != nil:
			h.Broadcaster.Broadcast("error", "Exposure failed: "+err.Error())
			log.Warn("sequence failed: %v", err)
		default:
			h.Broadcaster.Broadcast("info", "Sequence complete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
