// Package web provides the HTTP API for inspecting alarms and applying
// deferrals.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/datetime"
	appLog "alarmd/internal/log"
	"alarmd/internal/registry"
)

// Server provides HTTP APIs for alarm and configuration access.
type Server struct {
	cfg *config.Config
	reg *registry.Registry
	loc *time.Location
	mux *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, reg *registry.Registry, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg: cfg,
		reg: reg,
		loc: loc,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable without credentials for probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="alarmd", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer starts an HTTP server bound to cfg.Listen. Graceful
// shutdown on ctx cancellation is left to the caller's http.Server
// wiring; this helper only provides the simple ListenAndServe path.
func StartServer(_ context.Context, cfg *config.Config, reg *registry.Registry, loc *time.Location) error {
	s := NewServer(cfg, reg, loc)
	appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
	return http.ListenAndServe(cfg.Listen, s.Handler())
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/alarms", s.handleAlarms)
	s.mux.HandleFunc("/api/alarms/", s.handleAlarmByID)
	s.mux.HandleFunc("/api/config", s.handleConfig)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// alarmDTO is a JSON-friendly view of one alarm and its trigger times.
type alarmDTO struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Valid   bool   `json:"valid"`

	Start    string `json:"start"`
	Recurs   bool   `json:"recurs"`
	Expired  bool   `json:"expired"`
	Deferred string `json:"deferred,omitempty"`

	NextAll      string `json:"next_all,omitempty"`
	NextMain     string `json:"next_main,omitempty"`
	NextAllWork  string `json:"next_all_work,omitempty"`
	NextMainWork string `json:"next_main_work,omitempty"`
}

// alarmsResponse is the JSON response shape for /api/alarms.
type alarmsResponse struct {
	Alarms []alarmDTO `json:"alarms"`
	Now    time.Time  `json:"now"`
}

func (s *Server) handleAlarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snaps := s.reg.Snapshots()
	dtos := make([]alarmDTO, 0, len(snaps))
	for _, snap := range snaps {
		dtos = append(dtos, toDTO(snap))
	}
	writeJSON(w, http.StatusOK, alarmsResponse{
		Alarms: dtos,
		Now:    time.Now().In(s.loc),
	})
}

func toDTO(snap registry.Snapshot) alarmDTO {
	dto := alarmDTO{
		ID:      snap.ID.String(),
		Message: snap.Message,
		Valid:   snap.Valid,
		Start:   snap.Record.Start.String(),
		Recurs:  snap.Record.Recurrence != nil,
		Expired: snap.Record.MainExpired,
	}
	if snap.Record.DeferralKind != alarm.DeferralNone {
		dto.Deferred = snap.Record.DeferredTo.String()
	}
	dto.NextAll = triggerString(snap.NextAll)
	dto.NextMain = triggerString(snap.NextMain)
	dto.NextAllWork = triggerString(snap.NextAllWork)
	dto.NextMainWork = triggerString(snap.NextMainWork)
	return dto
}

// triggerString renders a trigger instant, or empty when none exists.
func triggerString(dt datetime.DateTime) string {
	if dt.IsZero() {
		return ""
	}
	return dt.String()
}

// handleAlarmByID dispatches /api/alarms/{id} and /api/alarms/{id}/defer.
func (s *Server) handleAlarmByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/alarms/")
	idStr, action, _ := strings.Cut(rest, "/")

	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad alarm id")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		snap, err := s.reg.Snapshot(id)
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alarm not found")
			return
		}
		writeJSON(w, http.StatusOK, toDTO(snap))

	case "defer":
		switch r.Method {
		case http.MethodPost:
			s.handleDefer(w, r, id)
		case http.MethodDelete:
			s.handleCancelDeferral(w, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	default:
		http.NotFound(w, r)
	}
}

// deferRequest is the JSON body for POST /api/alarms/{id}/defer.
type deferRequest struct {
	// To is the deferral target, RFC 3339 or 2006-01-02 for date-only.
	To string `json:"to"`
	// Reminder requests a reminder deferral instead of a main deferral.
	Reminder bool `json:"reminder,omitempty"`
}

func (s *Server) handleDefer(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req deferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	to, err := parseInstant(req.To, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad deferral instant")
		return
	}

	now := time.Now().In(s.loc)
	err = s.reg.Defer(id, now, to, req.Reminder)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "alarm not found")
		return
	case errors.Is(err, alarm.ErrInvalidDeferral):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		appLog.Error("deferral failed", err, "id", id.String())
		writeError(w, http.StatusInternalServerError, "deferral failed")
		return
	}

	snap, err := s.reg.Snapshot(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deferral applied but snapshot failed")
		return
	}
	appLog.Info("alarm deferred", "id", id.String(), "to", to.String(), "reminder", req.Reminder)
	writeJSON(w, http.StatusOK, toDTO(snap))
}

func (s *Server) handleCancelDeferral(w http.ResponseWriter, id uuid.UUID) {
	err := s.reg.CancelDeferral(id)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alarm not found")
		return
	}

	snap, err := s.reg.Snapshot(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}
	appLog.Info("alarm deferral cancelled", "id", id.String())
	writeJSON(w, http.StatusOK, toDTO(snap))
}

// configResponse is the JSON response shape for /api/config. It exposes
// the scheduling-relevant settings, not the raw file.
type configResponse struct {
	Timezone   string   `json:"timezone"`
	StartOfDay string   `json:"start_of_day"`
	WorkDays   []string `json:"work_days"`
	WorkStart  string   `json:"work_start"`
	WorkEnd    string   `json:"work_end"`
	Feb29      string   `json:"feb29"`
	Holidays   int      `json:"holidays"`
	AlarmCount int      `json:"alarm_count"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	view := s.reg.SchedulingSnapshot()
	names := make([]string, 0, len(view.WorkDays))
	for _, d := range view.WorkDays {
		names = append(names, d.String())
	}

	writeJSON(w, http.StatusOK, configResponse{
		Timezone:   s.cfg.Timezone,
		StartOfDay: s.cfg.StartOfDay,
		WorkDays:   names,
		WorkStart:  s.cfg.WorkStart,
		WorkEnd:    s.cfg.WorkEnd,
		Feb29:      s.cfg.Feb29,
		Holidays:   view.HolidayCount,
		AlarmCount: s.reg.Len(),
	})
}

// parseInstant accepts RFC 3339 for timed instants and 2006-01-02 for
// date-only instants.
func parseInstant(s string, loc *time.Location) (datetime.DateTime, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return datetime.At(t.In(loc)), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return datetime.DateOf(t), nil
	}
	return datetime.DateTime{}, errors.New("web: bad instant")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
