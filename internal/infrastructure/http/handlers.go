// ABOUTME: HTTP handlers for mixer endpoints
// ABOUTME: Implements PCM stream, stats, control, listing and health routes
package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"

	"github.com/harper/ringmix/internal/application/manager"
	"github.com/harper/ringmix/internal/domain/mixer"
)

// mixerFor resolves /{mixer}/{action} paths.
func mixerFor(mgr *manager.Manager, r *http.Request, action string) *mixer.Mixer {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[1] != action {
		return nil
	}
	return mgr.Get(parts[0])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	sonnet.NewEncoder(w).Encode(v)
}

type StreamHandler struct {
	mgr *manager.Manager
}

func NewStreamHandler(mgr *manager.Manager) *StreamHandler {
	return &StreamHandler{mgr: mgr}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mx := mixerFor(h.mgr, r, "stream")
	if mx == nil {
		http.NotFound(w, r)
		return
	}

	client := &mixer.Client{ID: uuid.New().String()}

	w.Header().Set("Content-Type", fmt.Sprintf("audio/L16;rate=%d;channels=%d", mx.SampleRate(), mx.Channels()))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("X-Client-Id", client.ID)
	w.WriteHeader(http.StatusOK)

	chunks := mx.Subscribe(client)
	defer mx.Unsubscribe(client)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type StatsHandler struct {
	mgr *manager.Manager
}

func NewStatsHandler(mgr *manager.Manager) *StatsHandler {
	return &StatsHandler{mgr: mgr}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mx := mixerFor(h.mgr, r, "stats")
	if mx == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, mx.Stats())
}

// ControlHandler serves POST /{mixer}/stop and POST /{mixer}/resume.
type ControlHandler struct {
	mgr *manager.Manager
}

func NewControlHandler(mgr *manager.Manager) *ControlHandler {
	return &ControlHandler{mgr: mgr}
}

func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if action != "stop" && action != "resume" {
		http.NotFound(w, r)
		return
	}
	mx := mixerFor(h.mgr, r, action)
	if mx == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if action == "stop" {
		mx.Stop()
	} else {
		mx.Resume()
	}

	type response struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	writeJSON(w, http.StatusAccepted, response{ID: mx.ID(), State: mx.State().String()})
}

type MixersHandler struct {
	mgr *manager.Manager
}

func NewMixersHandler(mgr *manager.Manager) *MixersHandler {
	return &MixersHandler{mgr: mgr}
}

func (h *MixersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type mixerInfo struct {
		ID            string `json:"id"`
		State         string `json:"state"`
		StreamURL     string `json:"stream_url"`
		StatsURL      string `json:"stats_url"`
		RingLen       int    `json:"ring_len"`
		RingCap       int    `json:"ring_cap"`
		Clients       int    `json:"clients"`
		SourceHealthy bool   `json:"source_healthy"`
	}

	mixers := h.mgr.List()
	result := make([]mixerInfo, 0, len(mixers))

	for _, mx := range mixers {
		stats := mx.Stats()
		result = append(result, mixerInfo{
			ID:            mx.ID(),
			State:         mx.State().String(),
			StreamURL:     fmt.Sprintf("/%s/stream", mx.ID()),
			StatsURL:      fmt.Sprintf("/%s/stats", mx.ID()),
			RingLen:       stats.RingLen,
			RingCap:       stats.RingCap,
			Clients:       stats.Clients,
			SourceHealthy: stats.SourceHealthy,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	type response struct {
		OK bool `json:"ok"`
	}
	writeJSON(w, http.StatusOK, response{OK: true})
}
