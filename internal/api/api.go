// Package api is the REST surface of the minutes server.
//
//	POST   /api/sessions                  start recording
//	GET    /api/sessions/current          pipeline snapshot
//	DELETE /api/sessions/current          stop and finalize, returns the record
//	GET    /api/devices                   input devices of the audio source
//	GET    /api/meetings                  ?limit&offset&tag&from&to
//	GET    /api/meetings/{id}             meeting with transcript, summary, items
//	DELETE /api/meetings/{id}
//	POST   /api/meetings/{id}/reprocess   rerun summary and action items
//	GET    /api/action-items              ?meeting_id&status&assignee
//	PATCH  /api/action-items/{id}         {status, assignee, due_date}
//	DELETE /api/action-items/{id}
//	GET    /api/search                    ?q&limit, when the store can search
//
// Errors are JSON objects {"error": "..."}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/pipeline"
	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Sessions is the part of [pipeline.Pipeline] the API drives.
type Sessions interface {
	Start(ctx context.Context, opts pipeline.StartOptions) error
	Stop(ctx context.Context) (*meeting.Record, error)
	Snapshot() pipeline.Snapshot
	Reprocess(ctx context.Context, meetingID string) (*meeting.Record, error)
}

// DeviceLister enumerates capture devices.
type DeviceLister interface {
	Devices(ctx context.Context) ([]audio.Device, error)
}

// Server holds the handlers. Devices may be nil.
type Server struct {
	sessions Sessions
	devices  DeviceLister
	store    store.Store
}

// New returns a Server.
func New(sessions Sessions, devices DeviceLister, st store.Store) *Server {
	return &Server{sessions: sessions, devices: devices, store: st}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", s.startSession)
	mux.HandleFunc("GET /api/sessions/current", s.currentSession)
	mux.HandleFunc("DELETE /api/sessions/current", s.stopSession)
	mux.HandleFunc("GET /api/devices", s.listDevices)
	mux.HandleFunc("GET /api/meetings", s.listMeetings)
	mux.HandleFunc("GET /api/meetings/{id}", s.getMeeting)
	mux.HandleFunc("DELETE /api/meetings/{id}", s.deleteMeeting)
	mux.HandleFunc("POST /api/meetings/{id}/reprocess", s.reprocess)
	mux.HandleFunc("GET /api/action-items", s.listActionItems)
	mux.HandleFunc("PATCH /api/action-items/{id}", s.updateActionItem)
	mux.HandleFunc("DELETE /api/action-items/{id}", s.deleteActionItem)
	mux.HandleFunc("GET /api/search", s.search)
}

// Handler returns the routes wrapped in the observe middleware.
func (s *Server) Handler(m *observe.Metrics) http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return observe.Middleware(m)(mux)
}

// ─── sessions ────────────────────────────────────────────────────────────────

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var opts pipeline.StartOptions
	if err := decode(w, r, &opts); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.sessions.Start(r.Context(), opts); err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.sessions.Snapshot())
}

func (s *Server) currentSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Stop(r.Context())
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeJSON(w, http.StatusOK, []audio.Device{})
		return
	}
	devices, err := s.devices.Devices(r.Context())
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// ─── meetings ────────────────────────────────────────────────────────────────

func (s *Server) listMeetings(w http.ResponseWriter, r *http.Request) {
	f, err := meetingFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	ms, err := s.store.ListMeetings(r.Context(), f)
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	if ms == nil {
		ms = []meeting.Meeting{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func meetingFilter(r *http.Request) (store.MeetingFilter, error) {
	q := r.URL.Query()
	var f store.MeetingFilter
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, fmt.Errorf("limit: %w", err)
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, fmt.Errorf("offset: %w", err)
	}
	for _, tag := range q["tag"] {
		if tag = strings.TrimSpace(tag); tag != "" {
			f.Tags = append(f.Tags, tag)
		}
	}
	if f.From, err = timeParam(q.Get("from"), false); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = timeParam(q.Get("to"), true); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	return f, nil
}

func (s *Server) getMeeting(w http.ResponseWriter, r *http.Request) {
	rec, err := store.LoadRecord(r.Context(), s.store, r.PathValue("id"))
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteMeeting(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMeeting(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reprocess(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Reprocess(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ─── action items ────────────────────────────────────────────────────────────

func (s *Server) listActionItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ActionItemFilter{
		MeetingID: q.Get("meeting_id"),
		Assignee:  strings.TrimSpace(q.Get("assignee")),
	}
	if raw := q.Get("status"); raw != "" {
		st, err := meeting.ParseStatus(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		f.Status = st
	}
	items, err := s.store.ListActionItems(r.Context(), f)
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	if items == nil {
		items = []meeting.ActionItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// actionItemPatch is the PATCH body. due_date may be an RFC 3339 time, a
// YYYY-MM-DD day (end of day UTC), or null to clear it.
type actionItemPatch struct {
	Status   *string         `json:"status"`
	Assignee *string         `json:"assignee"`
	DueDate  json.RawMessage `json:"due_date"`
}

func (p actionItemPatch) update() (store.ActionItemUpdate, error) {
	var u store.ActionItemUpdate
	if p.Status != nil {
		st, err := meeting.ParseStatus(*p.Status)
		if err != nil {
			return u, err
		}
		u.Status = &st
	}
	if p.Assignee != nil {
		a := strings.TrimSpace(*p.Assignee)
		if a == "" {
			a = meeting.Unassigned
		}
		u.Assignee = &a
	}
	switch raw := strings.TrimSpace(string(p.DueDate)); raw {
	case "":
	case "null":
		u.ClearDueDate = true
	default:
		var text string
		if err := json.Unmarshal(p.DueDate, &text); err != nil {
			return u, fmt.Errorf("due_date: %w", err)
		}
		d, err := timeParam(text, true)
		if err != nil {
			return u, fmt.Errorf("due_date: %w", err)
		}
		if d.IsZero() {
			u.ClearDueDate = true
		} else {
			u.DueDate = &d
		}
	}
	return u, u.Validate()
}

func (s *Server) updateActionItem(w http.ResponseWriter, r *http.Request) {
	var patch actionItemPatch
	if err := decode(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	u, err := patch.update()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	item, err := s.store.UpdateActionItem(r.Context(), r.PathValue("id"), u)
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) deleteActionItem(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteActionItem(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── search ──────────────────────────────────────────────────────────────────

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	searcher, ok := s.store.(store.Searcher)
	if !ok {
		writeError(w, r, http.StatusNotImplemented, store.ErrSearchUnavailable)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("q is required"))
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
		return
	}
	hits, err := searcher.SearchTranscripts(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	if hits == nil {
		hits = []store.SearchResult{}
	}
	writeJSON(w, http.StatusOK, hits)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrSessionActive), errors.Is(err, pipeline.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrTranscription):
		return http.StatusBadGateway
	case errors.Is(err, audio.ErrDevice), errors.Is(err, audio.ErrCapture):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrSearchUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a non-negative integer", raw)
	}
	return n, nil
}

// timeParam parses RFC 3339 or YYYY-MM-DD. A bare day is the start of the
// day, or its last second when endOfDay is set.
func timeParam(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Second)
	}
	return d, nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		slog.Debug("api: request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
