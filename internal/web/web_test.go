package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"festpage/internal/auth"
	"festpage/internal/clock"
	"festpage/internal/config"
	"festpage/internal/contact"
	"festpage/internal/metrics"
	"festpage/internal/page"
	"festpage/internal/pastevent"
	"festpage/internal/schedule"
	"festpage/internal/store"
)

const testPage = `<html><body>
<div class="date-section" id="s-sep1"><h2 class="date-title">September 1, 2025</h2>
  <div class="event-card" id="e-sep1"><h3>Cultural Night</h3><p>Dance and music.</p></div>
</div>
<div class="date-section" id="s-sep12"><h2 class="date-title">September 12, 2025</h2>
  <div class="event-card" id="e-sep12"><h3>Rangoli</h3></div>
</div>
<div class="date-section" id="s-sep15"><h2 class="date-title">September 15, 2025</h2>
  <div class="event-card" id="e-sep15"><h3>Thank-you Dinner</h3></div>
</div>
</body></html>`

var now = time.Date(2025, time.September, 10, 9, 20, 0, 0, time.UTC)

type fixture struct {
	cfg     *config.Config
	clk     *clock.Manual
	filter  *pastevent.Filter
	metrics *metrics.Metrics
	handler http.Handler
}

func newFixture(t *testing.T, mutate func(*config.Config, *Deps)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Filter.Policy = config.PolicyMark

	doc, err := page.Load(strings.NewReader(testPage), page.Selectors{
		Event:            cfg.Selectors.Event,
		Section:          cfg.Selectors.Section,
		DateTitle:        cfg.Selectors.DateTitle,
		EventDate:        cfg.Selectors.EventDate,
		EventTitle:       cfg.Selectors.EventTitle,
		EventDescription: cfg.Selectors.EventDescription,
	})
	if err != nil {
		t.Fatal(err)
	}

	clk := clock.NewManual(now)
	m := metrics.New()
	st := store.NewMemory()
	f := pastevent.NewFilter(doc,
		pastevent.WithPolicy(pastevent.PolicyMark),
		pastevent.WithClock(clk),
		pastevent.WithLocation(time.UTC),
		pastevent.WithStore(st),
		pastevent.WithRecorder(m),
	)
	t.Cleanup(f.Close)

	sched, err := schedule.New(f, schedule.Options{Location: time.UTC, Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sched.Stop)

	deps := Deps{
		Filter:  f,
		Passes:  sched,
		Hints:   store.NewGestureHint(st),
		Metrics: m,
		Clock:   clk,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	return &fixture{
		cfg:     cfg,
		clk:     clk,
		filter:  f,
		metrics: m,
		handler: NewServer(cfg, deps).Handler(),
	}
}

func (fx *fixture) do(t *testing.T, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	fx := newFixture(t, nil)
	rec := fx.do(t, "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestRefreshMarksPastEvents(t *testing.T) {
	fx := newFixture(t, nil)

	rec := fx.do(t, "POST", "/api/refresh", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/refresh = %d %s", rec.Code, rec.Body.String())
	}
	rep := decode[pastevent.Report](t, rec)
	if rep.Trigger != pastevent.TriggerManual || rep.Expired != 1 || rep.SectionsExpired != 1 {
		t.Errorf("report = %+v", rep)
	}

	rec = fx.do(t, "GET", "/", nil, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("GET / = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rec.Body.String()))
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Find("#s-sep1").HasClass("past") || !doc.Find("#e-sep1").HasClass("past") {
		t.Errorf("page does not mark the past section:\n%s", rec.Body.String())
	}
	if doc.Find("#s-sep12").HasClass("past") {
		t.Error("upcoming section marked")
	}

	events := decode[eventsResponse](t, fx.do(t, "GET", "/api/events", nil, nil))
	if events.Today != "2025-09-10" || events.Policy != "mark" || events.LastChecked != "Wed Sep 10 2025" {
		t.Errorf("events = %+v", events)
	}
	if len(events.Sections) != 3 || events.Sections[0].State != "past" || events.Sections[1].Events[0].State != "visible" {
		t.Errorf("sections = %+v", events.Sections)
	}
	if events.Sections[0].Events[0].Date != "2025-09-01" {
		t.Errorf("date = %q", events.Sections[0].Events[0].Date)
	}
}

func TestVisibility(t *testing.T) {
	fx := newFixture(t, nil)

	first := decode[pastevent.Report](t, fx.do(t, "POST", "/api/visibility", nil, nil))
	if first.Suppressed || first.Trigger != pastevent.TriggerVisibility {
		t.Errorf("first visibility pass = %+v", first)
	}

	second := decode[pastevent.Report](t, fx.do(t, "POST", "/api/visibility", strings.NewReader(`{"state":"visible"}`), nil))
	if !second.Suppressed {
		t.Errorf("second visibility pass on the same day should be suppressed: %+v", second)
	}

	if rec := fx.do(t, "POST", "/api/visibility", strings.NewReader(`{"state":"hidden"}`), nil); rec.Code != http.StatusNoContent {
		t.Errorf("hidden = %d", rec.Code)
	}
	if rec := fx.do(t, "POST", "/api/visibility", strings.NewReader(`{"state":"blurred"}`), nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown state = %d", rec.Code)
	}
	if rec := fx.do(t, "POST", "/api/visibility", strings.NewReader(`{`), nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON = %d", rec.Code)
	}
}

func TestStatusCountdown(t *testing.T) {
	fx := newFixture(t, nil)

	st := decode[statusResponse](t, fx.do(t, "GET", "/api/status", nil, nil))
	if st.Upcoming != 2 || st.NextEvent == nil {
		t.Fatalf("status = %+v", st)
	}
	if st.NextEvent.Title != "Rangoli" || st.NextEvent.DaysRemaining != 2 || st.NextEvent.Date != "2025-09-12" {
		t.Errorf("next event = %+v", st.NextEvent)
	}
	if st.NextPass == nil || !st.NextPass.Equal(time.Date(2025, time.September, 10, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("next pass = %v", st.NextPass)
	}
}

func TestGestureHint(t *testing.T) {
	fx := newFixture(t, nil)

	got := decode[gestureHintResponse](t, fx.do(t, "GET", "/api/hints/gesture", nil, nil))
	if !got.Show {
		t.Errorf("hint should be shown on first visit: %+v", got)
	}

	if rec := fx.do(t, "POST", "/api/hints/gesture", nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("POST hint = %d", rec.Code)
	}

	got = decode[gestureHintResponse](t, fx.do(t, "GET", "/api/hints/gesture", nil, nil))
	if got.Show || got.ShownOn != "Wed Sep 10 2025" {
		t.Errorf("after POST: %+v", got)
	}
}

func TestContact(t *testing.T) {
	fx := newFixture(t, nil)
	jsonHeader := map[string]string{"Content-Type": "application/json"}

	rec := fx.do(t, "POST", "/api/contact",
		strings.NewReader(`{"name":"Asha","email":"asha@example.org","message":"Count me in"}`), jsonHeader)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("valid JSON = %d %s", rec.Code, rec.Body.String())
	}
	if ok := decode[contactAccepted](t, rec); ok.ID == "" || ok.Status != "received" {
		t.Errorf("accepted = %+v", ok)
	}

	rec = fx.do(t, "POST", "/api/contact",
		strings.NewReader(`{"name":"A","email":"nope","phone":"12","message":"Hi there"}`), jsonHeader)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid JSON = %d", rec.Code)
	}
	rej := decode[contactRejected](t, rec)
	want := []contact.FieldError{
		{Field: "name", Message: contact.MsgTooShort},
		{Field: "email", Message: contact.MsgEmail},
		{Field: "phone", Message: contact.MsgPhone},
	}
	if len(rej.Fields) != len(want) {
		t.Fatalf("fields = %+v", rej.Fields)
	}
	for i := range want {
		if rej.Fields[i] != want[i] {
			t.Errorf("fields[%d] = %+v, want %+v", i, rej.Fields[i], want[i])
		}
	}

	form := url.Values{
		"name":    {"Ravi"},
		"email":   {"ravi@example.org"},
		"phone":   {"+91 98765 43210"},
		"message": {"Need a parking pass"},
	}
	rec = fx.do(t, "POST", "/api/contact", strings.NewReader(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rec.Code != http.StatusAccepted {
		t.Errorf("valid form = %d %s", rec.Code, rec.Body.String())
	}

	if rec := fx.do(t, "POST", "/api/contact", strings.NewReader(`{`), jsonHeader); rec.Code != http.StatusBadRequest {
		t.Errorf("broken JSON = %d", rec.Code)
	}
}

func TestICSFeed(t *testing.T) {
	fx := newFixture(t, nil)

	rec := fx.do(t, "GET", "/events.ics", nil, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("GET /events.ics = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if n := strings.Count(body, "BEGIN:VEVENT"); n != 2 {
		t.Errorf("VEVENT count = %d, want 2", n)
	}
	if !strings.Contains(body, "SUMMARY:Rangoli") || strings.Contains(body, "Cultural Night") {
		t.Errorf("feed should hold only upcoming events:\n%s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newFixture(t, nil)
	fx.do(t, "POST", "/api/refresh", nil, nil)

	rec := fx.do(t, "GET", "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `festpage_filter_passes_total{trigger="manual"} 1`) {
		t.Errorf("metrics missing manual pass")
	}

	off := newFixture(t, func(_ *config.Config, d *Deps) { d.Metrics = nil })
	if rec := off.do(t, "GET", "/metrics", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without metrics = %d", rec.Code)
	}
}

func TestPreviewAndStatic(t *testing.T) {
	fx := newFixture(t, nil)
	if rec := fx.do(t, "GET", "/preview.png", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("preview without capture = %d", rec.Code)
	}
	if rec := fx.do(t, "GET", "/api/unknown", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown API = %d", rec.Code)
	}

	dir := t.TempDir()
	png := filepath.Join(dir, "preview.png")
	if err := os.WriteFile(png, []byte("\x89PNG fake"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "style.css"), []byte("body{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	withFiles := newFixture(t, func(cfg *config.Config, d *Deps) {
		d.PreviewPath = png
		cfg.Page.AssetsDir = dir
	})
	if rec := withFiles.do(t, "GET", "/preview.png", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("preview = %d", rec.Code)
	}
	if rec := withFiles.do(t, "GET", "/style.css", nil, nil); rec.Code != http.StatusOK || rec.Body.String() != "body{}" {
		t.Errorf("asset = %d %q", rec.Code, rec.Body.String())
	}
	if rec := withFiles.do(t, "GET", "/api/nothing", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("API path through assets = %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ba   config.BasicAuthConfig
	}{
		{name: "plain", ba: config.BasicAuthConfig{Username: "admin", Password: "s3cret"}},
		{name: "argon2id", ba: config.BasicAuthConfig{Username: "admin", PasswordHash: hash}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ba := tt.ba
			fx := newFixture(t, func(cfg *config.Config, _ *Deps) { cfg.BasicAuth = &ba })

			if rec := fx.do(t, "GET", "/health", nil, nil); rec.Code != http.StatusOK {
				t.Errorf("/health must stay open, got %d", rec.Code)
			}
			rec := fx.do(t, "GET", "/", nil, nil)
			if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
				t.Errorf("no credentials = %d", rec.Code)
			}

			req := httptest.NewRequest("GET", "/", nil)
			req.SetBasicAuth("admin", "wrong")
			w := httptest.NewRecorder()
			fx.handler.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("wrong password = %d", w.Code)
			}

			req = httptest.NewRequest("GET", "/", nil)
			req.SetBasicAuth("admin", "s3cret")
			w = httptest.NewRecorder()
			fx.handler.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Errorf("correct credentials = %d", w.Code)
			}
		})
	}
}

func TestDaysBetween(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	a := time.Date(2025, time.September, 10, 23, 59, 0, 0, ist)
	b := time.Date(2025, time.September, 12, 0, 0, 0, 0, ist)
	if got := daysBetween(a, b); got != 2 {
		t.Errorf("daysBetween = %d, want 2", got)
	}
	if got := daysBetween(b, a); got != -2 {
		t.Errorf("daysBetween reversed = %d, want -2", got)
	}
}
