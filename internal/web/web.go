package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"festpage/internal/auth"
	"festpage/internal/clock"
	"festpage/internal/config"
	"festpage/internal/contact"
	"festpage/internal/ics"
	appLog "festpage/internal/log"
	"festpage/internal/metrics"
	"festpage/internal/model"
	"festpage/internal/pastevent"
	"festpage/internal/store"
)

// Passes runs filter passes on demand and knows when the next scheduled
// one is due.
type Passes interface {
	Trigger(ctx context.Context, trigger pastevent.Trigger) (pastevent.Report, error)
	Next() time.Time
}

// Deps are the components the HTTP surface reads from and drives.
type Deps struct {
	Filter *pastevent.Filter
	Passes Passes
	Hints  *store.GestureHint
	// Metrics is optional; nil disables /metrics.
	Metrics *metrics.Metrics
	// PreviewPath is served at /preview.png when non-empty.
	PreviewPath string
	Clock       clock.Clock
}

// Server provides the filtered page and its small JSON API.
type Server struct {
	cfg  *config.Config
	deps Deps
	loc  *time.Location
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		loc:  cfg.Location(),
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen, "hashed", s.cfg.BasicAuth.PasswordHash != "")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/visibility", s.handleVisibility)
	s.mux.HandleFunc("GET /api/hints/gesture", s.handleGestureHint)
	s.mux.HandleFunc("POST /api/hints/gesture", s.handleGestureHintShown)
	s.mux.HandleFunc("POST /api/contact", s.handleContact)
	s.mux.HandleFunc("GET /events.ics", s.handleICS)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	// The filtered page on "/", static assets (if configured) for the rest.
	s.mux.HandleFunc("GET /{$}", s.handlePage)
	s.mux.Handle("/", s.staticFileServer())
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	ba := s.cfg.BasicAuth
	return ba.Username != "" && (ba.Password != "" || ba.PasswordHash != "")
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	ba := *s.cfg.BasicAuth

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !auth.SecureCompare(u, ba.Username) || !checkPassword(ba, p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="festpage", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkPassword(ba config.BasicAuthConfig, password string) bool {
	if ba.PasswordHash == "" {
		return auth.SecureCompare(password, ba.Password)
	}
	ok, err := auth.VerifyPassword(password, ba.PasswordHash)
	if err != nil {
		appLog.Error("basic auth: stored hash unusable", err)
		return false
	}
	return ok
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePage serves the page as the filter currently holds it.
func (s *Server) handlePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := s.deps.Filter.Render(w); err != nil {
		appLog.Error("page render failed", err)
	}
}

// staticFileServer serves page.assets_dir for everything that is not an
// API route. Without an assets dir every such path is a 404.
func (s *Server) staticFileServer() http.Handler {
	dir := s.cfg.Page.AssetsDir
	if dir == "" {
		return http.NotFoundHandler()
	}
	fileServer := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// handlePreview serves the last captured PNG preview from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.deps.PreviewPath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.deps.PreviewPath)
}

// eventDTO is a JSON-friendly view of one entry.
type eventDTO struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Label       string `json:"label"`
	Date        string `json:"date,omitempty"`
	State       string `json:"state"`
}

type sectionDTO struct {
	Heading string     `json:"heading"`
	State   string     `json:"state"`
	Events  []eventDTO `json:"events"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Today       string       `json:"today"`
	Timezone    string       `json:"timezone"`
	Policy      string       `json:"policy"`
	LastChecked string       `json:"last_checked,omitempty"`
	Sections    []sectionDTO `json:"sections"`
}

func toEventDTO(ev model.EventEntry) eventDTO {
	dto := eventDTO{
		Title:       ev.Title,
		Description: ev.Description,
		Label:       ev.Label,
		State:       string(ev.State),
	}
	if ev.Parsed {
		dto.Date = ev.Date.Format("2006-01-02")
	}
	return dto
}

// handleEvents returns every section and entry still on the page.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	now := s.deps.Clock.Now().In(s.loc)

	resp := eventsResponse{
		Today:       now.Format("2006-01-02"),
		Timezone:    s.loc.String(),
		Policy:      s.cfg.Filter.Policy,
		LastChecked: s.deps.Filter.LastChecked(),
		Sections:    []sectionDTO{},
	}
	for _, sec := range s.deps.Filter.Snapshot() {
		dto := sectionDTO{Heading: sec.Heading, State: string(sec.State), Events: []eventDTO{}}
		for _, ev := range sec.Entries {
			dto.Events = append(dto.Events, toEventDTO(ev))
		}
		resp.Sections = append(resp.Sections, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

type countdownDTO struct {
	Title         string `json:"title"`
	Label         string `json:"label"`
	Date          string `json:"date"`
	DaysRemaining int    `json:"days_remaining"`
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Now         time.Time     `json:"now"`
	LastChecked string        `json:"last_checked,omitempty"`
	NextPass    *time.Time    `json:"next_pass,omitempty"`
	Upcoming    int           `json:"upcoming"`
	NextEvent   *countdownDTO `json:"next_event,omitempty"`
}

// handleStatus reports filter bookkeeping plus a countdown to the next
// upcoming event.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := s.deps.Clock.Now().In(s.loc)
	upcoming := s.deps.Filter.Upcoming(now)

	resp := statusResponse{
		Now:         now,
		LastChecked: s.deps.Filter.LastChecked(),
		Upcoming:    len(upcoming),
	}
	if s.deps.Passes != nil {
		if next := s.deps.Passes.Next(); !next.IsZero() {
			resp.NextPass = &next
		}
	}
	if len(upcoming) > 0 {
		ev := upcoming[0]
		resp.NextEvent = &countdownDTO{
			Title:         ev.Title,
			Label:         ev.Label,
			Date:          ev.Date.Format("2006-01-02"),
			DaysRemaining: daysBetween(now, ev.Date),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// daysBetween counts calendar days from a to b, ignoring time of day.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// handleRefresh runs a manual pass (the pull-to-refresh equivalent).
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.runPass(w, r, pastevent.TriggerManual)
}

type visibilityRequest struct {
	// State is "visible" or "hidden"; an empty body means visible.
	State string `json:"state"`
}

// handleVisibility runs a pass when the page reports it became visible
// again. Hidden notifications are accepted and ignored.
func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch req.State {
	case "", "visible":
		s.runPass(w, r, pastevent.TriggerVisibility)
	case "hidden":
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown visibility state %q", req.State))
	}
}

func (s *Server) runPass(w http.ResponseWriter, r *http.Request, trigger pastevent.Trigger) {
	if s.deps.Passes == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	rep, err := s.deps.Passes.Trigger(r.Context(), trigger)
	if err != nil {
		appLog.Error("on-demand pass failed", err, "trigger", trigger)
		writeError(w, http.StatusInternalServerError, "filter pass failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type gestureHintResponse struct {
	Show    bool   `json:"show"`
	ShownOn string `json:"shown_on,omitempty"`
}

func (s *Server) handleGestureHint(w http.ResponseWriter, _ *http.Request) {
	shown, on, err := s.deps.Hints.Shown()
	if err != nil {
		appLog.Error("read gesture hint flag failed", err)
		writeError(w, http.StatusInternalServerError, "flag unavailable")
		return
	}
	writeJSON(w, http.StatusOK, gestureHintResponse{Show: !shown, ShownOn: on})
}

func (s *Server) handleGestureHintShown(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Hints.MarkShown(s.deps.Clock.Now().In(s.loc)); err != nil {
		appLog.Error("persist gesture hint flag failed", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type contactAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type contactRejected struct {
	Error  string               `json:"error"`
	Fields []contact.FieldError `json:"fields"`
}

// handleContact validates a contact form post. Accepted submissions are
// logged; nothing is delivered.
func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeSubmission(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := contact.Validate(sub); err != nil {
		var verr *contact.ValidationError
		if errors.As(err, &verr) {
			s.observeContact("invalid")
			writeJSON(w, http.StatusUnprocessableEntity, contactRejected{Error: "validation failed", Fields: verr.Fields})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	s.observeContact("accepted")
	appLog.Info("contact submission received", "id", id, "has_phone", sub.Phone != "", "message_len", len(sub.Trimmed().Message))
	writeJSON(w, http.StatusAccepted, contactAccepted{ID: id, Status: "received"})
}

func (s *Server) observeContact(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveContact(outcome)
	}
}

func decodeSubmission(w http.ResponseWriter, r *http.Request) (contact.Submission, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

	var sub contact.Submission
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			return sub, errors.New("invalid JSON body")
		}
		return sub, nil
	}

	if err := r.ParseForm(); err != nil {
		return sub, errors.New("invalid form body")
	}
	sub = contact.Submission{
		Name:    r.PostForm.Get("name"),
		Email:   r.PostForm.Get("email"),
		Phone:   r.PostForm.Get("phone"),
		Message: r.PostForm.Get("message"),
	}
	return sub, nil
}

// handleICS exports the upcoming events as a subscription feed.
func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	now := s.deps.Clock.Now().In(s.loc)
	upcoming := s.deps.Filter.Upcoming(now)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="events.ics"`)
	feed := ics.Feed{
		Name:     s.cfg.Page.Title,
		Timezone: s.loc.String(),
		Domain:   s.cfg.Page.Domain,
	}
	if err := ics.Write(w, feed, upcoming, now); err != nil {
		appLog.Error("ics export failed", err)
	}
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
