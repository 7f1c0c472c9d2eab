package pastevent

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"festpage/internal/clock"
	appLog "festpage/internal/log"
	"festpage/internal/model"
	"festpage/internal/page"
	"festpage/internal/store"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("pastevent: filter closed")

// Trigger names what caused a filter pass.
type Trigger string

const (
	TriggerLoad       Trigger = "load"
	TriggerInterval   Trigger = "interval"
	TriggerVisibility Trigger = "visibility"
	TriggerSettle     Trigger = "settle"
	TriggerManual     Trigger = "manual"
)

// Daily reports whether passes with this trigger are skipped once the page
// was already checked on the current calendar day.
func (t Trigger) Daily() bool {
	return t == TriggerInterval || t == TriggerVisibility
}

// Policy selects what happens to expired entries.
type Policy string

const (
	// PolicyRemove animates the entry out and detaches it after the
	// transition delay.
	PolicyRemove Policy = "remove"
	// PolicyMark adds the past class and leaves the entry in place.
	PolicyMark Policy = "mark"
)

// SkipReason classifies entries a pass could not date.
type SkipReason string

const (
	SkipNoSection    SkipReason = "no_section"
	SkipNoDateTitle  SkipReason = "no_date_title"
	SkipNoDate       SkipReason = "no_date"
	SkipUnknownMonth SkipReason = "unknown_month"
)

// Report summarizes one filter pass.
type Report struct {
	ID      string    `json:"id"`
	Trigger Trigger   `json:"trigger"`
	Today   time.Time `json:"today"`

	// Checked counts live entries looked at; already retired ones are not
	// counted.
	Checked int `json:"checked"`
	Expired int `json:"expired"`
	// SectionsExpired counts sections left without a live entry by this pass.
	SectionsExpired int `json:"sections_expired"`
	Skipped         int `json:"skipped"`

	// Suppressed is set when the daily flag short-circuited the pass.
	Suppressed bool `json:"suppressed"`
}

// Recorder receives pass outcomes, e.g. for metrics.
type Recorder interface {
	ObservePass(Report)
	ObserveSkip(SkipReason)
}

// Option configures a Filter.
type Option func(*Filter)

func WithPolicy(p Policy) Option {
	return func(f *Filter) { f.policy = p }
}

// WithClasses overrides the leaving and past class names. Empty values keep
// the defaults.
func WithClasses(leaving, past string) Option {
	return func(f *Filter) {
		if leaving != "" {
			f.leavingClass = leaving
		}
		if past != "" {
			f.pastClass = past
		}
	}
}

func WithTransitionDelay(d time.Duration) Option {
	return func(f *Filter) { f.delay = d }
}

func WithLocation(loc *time.Location) Option {
	return func(f *Filter) {
		if loc != nil {
			f.loc = loc
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(f *Filter) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithStore persists the last checked date under store.KeyPastEventsChecked.
func WithStore(s store.Store) Option {
	return func(f *Filter) { f.store = s }
}

func WithRecorder(r Recorder) Option {
	return func(f *Filter) { f.rec = r }
}

type pendingDetach struct {
	timer  clock.Timer
	action func()
}

// Filter owns the page document and retires entries whose date has passed.
// All document access goes through the filter's mutex; Run may be called
// from any goroutine.
type Filter struct {
	policy       Policy
	leavingClass string
	pastClass    string
	delay        time.Duration
	loc          *time.Location
	clock        clock.Clock
	store        store.Store
	rec          Recorder

	mu          sync.Mutex
	doc         *page.Document
	lastChecked string
	pending     map[*html.Node]*pendingDetach
	closed      bool
}

// NewFilter wraps doc. The last checked date is restored from the store if
// one is configured.
func NewFilter(doc *page.Document, opts ...Option) *Filter {
	f := &Filter{
		policy:       PolicyRemove,
		leavingClass: "leaving",
		pastClass:    "past",
		delay:        500 * time.Millisecond,
		loc:          time.Local,
		clock:        clock.Real(),
		doc:          doc,
		pending:      make(map[*html.Node]*pendingDetach),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.store != nil {
		v, ok, err := f.store.Get(store.KeyPastEventsChecked)
		switch {
		case err != nil:
			appLog.Error("read past-event flag failed", err)
		case ok:
			f.lastChecked = v
		}
	}
	return f
}

// Run performs one pass over the document.
func (f *Filter) Run(ctx context.Context, trigger Trigger) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Report{}, ErrClosed
	}

	now := f.clock.Now().In(f.loc)
	dayKey := now.Format(store.DateLayout)
	rep := Report{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Today:   Midnight(now),
	}

	if trigger.Daily() && f.lastChecked == dayKey {
		rep.Suppressed = true
		appLog.Debug("past-event pass suppressed", "trigger", trigger, "checked", dayKey)
		f.observe(rep)
		return rep, nil
	}

	touched := make(map[*html.Node]*page.Section)
	var order []*page.Section

	for _, e := range f.doc.Entries() {
		if f.retired(e) {
			continue
		}
		rep.Checked++

		label, date, err := f.entryDate(e)
		if err != nil {
			f.skip(&rep, e, label, err)
			continue
		}
		if !IsPast(date, now) {
			continue
		}

		rep.Expired++
		appLog.Debug("past event", "label", label, "title", e.Title(), "policy", f.policy)

		sec, _ := e.Section()
		f.expireEntry(e, sec)

		if sec != nil {
			if _, seen := touched[sec.Node()]; !seen {
				touched[sec.Node()] = sec
				order = append(order, sec)
			}
		}
	}

	for _, sec := range order {
		if sec.HasClass(f.leavingClass) || sec.HasClass(f.pastClass) {
			continue
		}
		if sec.Remaining(f.leavingClass, f.pastClass) > 0 {
			continue
		}
		rep.SectionsExpired++
		if f.policy == PolicyMark {
			sec.AddClass(f.pastClass)
		}
		// Under the remove policy the section leaves once its last entry
		// is detached.
	}

	f.setLastChecked(dayKey)
	f.observe(rep)

	appLog.Info("past-event pass",
		"id", rep.ID,
		"trigger", trigger,
		"today", rep.Today.Format("2006-01-02"),
		"checked", rep.Checked,
		"expired", rep.Expired,
		"sections", rep.SectionsExpired,
		"skipped", rep.Skipped,
	)
	return rep, nil
}

func (f *Filter) retired(e *page.Entry) bool {
	return e.HasClass(f.leavingClass) || e.HasClass(f.pastClass)
}

func (f *Filter) skip(rep *Report, e *page.Entry, label string, err error) {
	rep.Skipped++

	var reason SkipReason
	switch {
	case errors.Is(err, page.ErrNoSection):
		reason = SkipNoSection
	case errors.Is(err, page.ErrNoDateTitle):
		reason = SkipNoDateTitle
	case errors.Is(err, ErrUnknownMonth):
		reason = SkipUnknownMonth
	default:
		reason = SkipNoDate
	}

	appLog.Debug("past-event skip", "reason", reason, "label", label, "title", e.Title(), "err", err)
	if f.rec != nil {
		f.rec.ObserveSkip(reason)
	}
}

func (f *Filter) observe(rep Report) {
	if f.rec != nil {
		f.rec.ObservePass(rep)
	}
}

// expireEntry applies the policy to one entry. Caller holds f.mu.
func (f *Filter) expireEntry(e *page.Entry, sec *page.Section) {
	if f.policy == PolicyMark {
		e.AddClass(f.pastClass)
		return
	}

	e.AddClass(f.leavingClass)
	f.schedule(e.Node(), func() {
		e.Detach()
		if sec == nil || !sec.Attached() || sec.HasClass(f.leavingClass) {
			return
		}
		if sec.Remaining() == 0 {
			appLog.Debug("removing empty date section", "heading", sec.Heading())
			sec.AddClass(f.leavingClass)
			f.schedule(sec.Node(), sec.Detach)
		}
	})
}

// schedule arms a detach for n after the transition delay. Caller holds f.mu.
func (f *Filter) schedule(n *html.Node, action func()) {
	if _, ok := f.pending[n]; ok {
		return
	}
	p := &pendingDetach{action: action}
	f.pending[n] = p
	p.timer = f.clock.AfterFunc(f.delay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.pending[n] != p || f.closed {
			return
		}
		delete(f.pending, n)
		p.action()
	})
}

func (f *Filter) setLastChecked(day string) {
	if f.lastChecked == day {
		return
	}
	f.lastChecked = day
	if f.store == nil {
		return
	}
	if err := f.store.Set(store.KeyPastEventsChecked, day); err != nil {
		appLog.Error("persist past-event flag failed", err, "day", day)
	}
}

// Flush detaches every entry and section that is still animating out,
// without waiting for the transition delay.
func (f *Filter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.pending) > 0 {
		for n, p := range f.pending {
			p.timer.Stop()
			delete(f.pending, n)
			p.action()
		}
	}
}

// Pending reports how many detaches are waiting for their transition delay.
func (f *Filter) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Close cancels pending detaches. Later Runs return ErrClosed.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for n, p := range f.pending {
		p.timer.Stop()
		delete(f.pending, n)
	}
}

// LastChecked returns the day string of the last completed pass, or "".
func (f *Filter) LastChecked() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChecked
}

// Render writes the current document.
func (f *Filter) Render(w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Render(w)
}

// Snapshot returns the attached sections with their entries. Entries outside
// any section are grouped under a trailing section with an empty heading.
func (f *Filter) Snapshot() []model.DateSection {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.DateSection
	for _, sec := range f.doc.Sections() {
		ds := model.DateSection{
			Heading: sec.Heading(),
			State:   f.state(sec.HasClass),
		}
		for _, e := range sec.Entries() {
			ds.Entries = append(ds.Entries, f.snapshotEntry(e))
		}
		out = append(out, ds)
	}

	var loose []model.EventEntry
	for _, e := range f.doc.Entries() {
		if _, err := e.Section(); errors.Is(err, page.ErrNoSection) {
			loose = append(loose, f.snapshotEntry(e))
		}
	}
	if len(loose) > 0 {
		out = append(out, model.DateSection{State: model.StateVisible, Entries: loose})
	}
	return out
}

// Upcoming returns visible entries dated today or later, soonest first.
func (f *Filter) Upcoming(now time.Time) []model.EventEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.EventEntry
	for _, e := range f.doc.Entries() {
		ev := f.snapshotEntry(e)
		if !ev.Parsed || ev.State != model.StateVisible || IsPast(ev.Date, now) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func (f *Filter) snapshotEntry(e *page.Entry) model.EventEntry {
	ev := model.EventEntry{
		Title:       e.Title(),
		Description: e.Description(),
		State:       f.state(e.HasClass),
	}
	if sec, err := e.Section(); err == nil {
		ev.Section = sec.Heading()
	}
	label, date, err := f.entryDate(e)
	ev.Label = label
	if err == nil {
		ev.Date = date
		ev.Parsed = true
	}
	return ev
}

// entryDate parses the first of the entry's labels that holds a date. A
// card's own date field that reads "6:00 PM onwards" falls through to the
// section title. On failure the last label tried and its error are returned.
func (f *Filter) entryDate(e *page.Entry) (string, time.Time, error) {
	labels, err := e.DateLabels()
	if err != nil {
		return "", time.Time{}, err
	}
	var label string
	for _, label = range labels {
		var date time.Time
		if date, err = ParseLabel(label, f.loc); err == nil {
			return label, date, nil
		}
	}
	return label, time.Time{}, err
}

func (f *Filter) state(hasClass func(string) bool) model.EntryState {
	switch {
	case hasClass(f.leavingClass):
		return model.StateLeaving
	case hasClass(f.pastClass):
		return model.StatePast
	default:
		return model.StateVisible
	}
}
