// Package api implements the Ansuz observability API using chi: observer
// introspection, manual sync triggers, note inspection, and the SSE event
// stream.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/noteservice"
)

// Reloader re-reads user-authored observer scripts.
type Reloader interface {
	Load() error
}

// Handler holds API route handlers.
type Handler struct {
	svc      *noteservice.Service
	reloader Reloader
}

// NewHandler creates a new Handler. reloader may be nil when no scripts
// directory is configured.
func NewHandler(svc *noteservice.Service, reloader Reloader) *Handler {
	return &Handler{svc: svc, reloader: reloader}
}

// notePath extracts the note path from the URL (everything after /notes/).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

type observerInfo struct {
	Name     string   `json:"name"`
	Runtime  string   `json:"runtime"`
	Events   []string `json:"events,omitempty"`
	Priority int      `json:"priority"`
	Timeout  string   `json:"timeout"`
}

// ListObservers handles GET /observers.
func (h *Handler) ListObservers(w http.ResponseWriter, _ *http.Request) {
	bindings := h.svc.Observers()
	out := make([]observerInfo, 0, len(bindings))
	for _, b := range bindings {
		d := b.Descriptor
		events := make([]string, 0, len(d.Events))
		for _, k := range d.Events {
			events = append(events, string(k))
		}
		out = append(out, observerInfo{
			Name:     d.Name,
			Runtime:  string(d.Runtime),
			Events:   events,
			Priority: d.Priority,
			Timeout:  d.EffectiveTimeout().String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"observers": out})
}

// Sync handles POST /sync: it enqueues one Synced event per note and returns
// immediately; dispatches run in the background.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.SyncAll(r.Context())
	if err != nil {
		slog.Error("sync all failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": count})
}

type noteResponse struct {
	Path        string            `json:"path"`
	Title       string            `json:"title"`
	Frontmatter map[string]string `json:"frontmatter,omitempty"`
	Body        string            `json:"body"`
	Checksum    string            `json:"checksum"`
}

// GetNote handles GET /notes/*.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path required"))
		return
	}
	note, err := h.svc.GetNote(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("note not found"))
			return
		}
		slog.Error("get note failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	resp := noteResponse{
		Path:     note.Path,
		Title:    note.Title(),
		Body:     note.Body,
		Checksum: note.Checksum,
	}
	if note.Frontmatter != nil {
		resp.Frontmatter = make(map[string]string, note.Frontmatter.Len())
		for pair := note.Frontmatter.Oldest(); pair != nil; pair = pair.Next() {
			resp.Frontmatter[pair.Key] = pair.Value
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReloadScripts handles POST /scripts/reload.
func (h *Handler) ReloadScripts(w http.ResponseWriter, _ *http.Request) {
	if h.reloader == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no scripts directory configured"))
		return
	}
	start := time.Now()
	if err := h.reloader.Load(); err != nil {
		slog.Error("script reload failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded_in": time.Since(start).String()})
}
