// Package app assembles festpage from its configuration and is the single
// place that starts and stops it.
package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"festpage/internal/capture"
	"festpage/internal/clock"
	"festpage/internal/config"
	appLog "festpage/internal/log"
	"festpage/internal/metrics"
	"festpage/internal/page"
	"festpage/internal/pastevent"
	"festpage/internal/schedule"
	"festpage/internal/store"
	"festpage/internal/web"
)

// Options override collaborators, mostly for tests.
type Options struct {
	Clock clock.Clock
	// Store replaces the JSON file at cfg.StatePath.
	Store store.Store
	// HTTPClient is used to fetch page.url.
	HTTPClient page.HTTPDoer
}

// App owns every long-lived component.
type App struct {
	cfg  *config.Config
	opts Options

	buildOnce sync.Once
	buildErr  error
	startOnce sync.Once
	startErr  error
	stopOnce  sync.Once

	store   store.Store
	filter  *pastevent.Filter
	sched   *schedule.Scheduler
	metrics *metrics.Metrics
	preview *capture.Previewer
	server  *web.Server

	mu           sync.Mutex
	ctx          context.Context
	previewTimer clock.Timer
}

func New(cfg *config.Config, opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &App{cfg: cfg, opts: opts, ctx: context.Background()}
}

// build wires the components once. It loads the page but runs no pass.
func (a *App) build(ctx context.Context) error {
	a.buildOnce.Do(func() {
		a.buildErr = a.assemble(ctx)
	})
	return a.buildErr
}

func (a *App) assemble(ctx context.Context) error {
	cfg := a.cfg
	loc, err := cfg.ResolveLocation()
	if err != nil {
		appLog.Warn("invalid timezone, using local time", "timezone", cfg.Timezone, "local", loc.String(), "err", err)
	}

	a.store = a.opts.Store
	if a.store == nil {
		fs, err := store.OpenFile(cfg.StatePath)
		if err != nil {
			return err
		}
		a.store = fs
	}

	doc, err := page.LoadSource(ctx, page.Source{
		URL:      cfg.Page.URL,
		Path:     cfg.Page.Path,
		CacheDir: cfg.Page.CacheDir,
		Client:   a.opts.HTTPClient,
	}, Selectors(cfg.Selectors))
	if err != nil {
		return fmt.Errorf("load page: %w", err)
	}

	filterOpts := []pastevent.Option{
		pastevent.WithPolicy(pastevent.Policy(cfg.Filter.Policy)),
		pastevent.WithClasses(cfg.Filter.LeavingClass, cfg.Filter.PastClass),
		pastevent.WithTransitionDelay(cfg.Filter.TransitionDelay),
		pastevent.WithLocation(loc),
		pastevent.WithClock(a.opts.Clock),
		pastevent.WithStore(a.store),
	}
	if cfg.Metrics {
		a.metrics = metrics.New()
		filterOpts = append(filterOpts, pastevent.WithRecorder(a.metrics))
	}
	a.filter = pastevent.NewFilter(doc, filterOpts...)

	if cfg.Capture.Enabled {
		opts := capture.CaptureOptions{
			URL:        selfURL(cfg.Listen),
			OutputPath: cfg.Capture.OutputPath,
			Width:      cfg.Capture.Width,
			Height:     cfg.Capture.Height,
			Timeout:    cfg.Capture.Timeout,
		}
		if ba := cfg.BasicAuth; ba != nil {
			if ba.Password == "" && ba.PasswordHash != "" {
				appLog.Warn("preview capture cannot authenticate with a hashed password only; set basic_auth.password or disable capture")
			}
			opts.Username, opts.Password = ba.Username, ba.Password
		}
		if a.preview, err = capture.NewPreviewer(opts); err != nil {
			return err
		}
	}

	a.sched, err = schedule.New(a.filter, schedule.Options{
		Spec:        cfg.Filter.Refresh,
		SettleDelay: cfg.Filter.SettleDelay,
		Location:    loc,
		Clock:       a.opts.Clock,
		OnPass:      a.afterPass,
	})
	if err != nil {
		return err
	}

	deps := web.Deps{
		Filter:  a.filter,
		Passes:  a.sched,
		Hints:   store.NewGestureHint(a.store),
		Metrics: a.metrics,
		Clock:   a.opts.Clock,
	}
	if a.preview != nil {
		deps.PreviewPath = a.preview.Path()
	}
	a.server = web.NewServer(cfg, deps)

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"policy", cfg.Filter.Policy,
		"refresh", cfg.Filter.Refresh,
		"settle_delay", cfg.Filter.SettleDelay.String(),
		"transition_delay", cfg.Filter.TransitionDelay.String(),
		"capture", cfg.Capture.Enabled,
		"metrics", cfg.Metrics,
	)
	return nil
}

// Start builds the app and starts the scheduler. Only the first call does
// anything; later calls return the first call's result.
func (a *App) Start(ctx context.Context) error {
	if err := a.build(ctx); err != nil {
		return err
	}
	a.startOnce.Do(func() {
		a.mu.Lock()
		a.ctx = ctx
		a.mu.Unlock()
		a.startErr = a.sched.Start(ctx)
	})
	return a.startErr
}

// Serve starts the app and serves HTTP until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop()
	return a.server.ListenAndServe(ctx)
}

// RunOnce loads the page, runs a single pass, completes every pending
// removal and writes the result to w. Nothing is scheduled.
func (a *App) RunOnce(ctx context.Context, w io.Writer) (pastevent.Report, error) {
	if err := a.build(ctx); err != nil {
		return pastevent.Report{}, err
	}
	defer a.Stop()

	rep, err := a.filter.Run(ctx, pastevent.TriggerLoad)
	if err != nil {
		return rep, err
	}
	a.filter.Flush()
	if err := a.filter.Render(w); err != nil {
		return rep, err
	}
	return rep, nil
}

// Handler exposes the HTTP surface, e.g. for tests.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return http.NotFoundHandler()
	}
	return a.server.Handler()
}

// Filter returns the past-event filter, nil before the app is built.
func (a *App) Filter() *pastevent.Filter { return a.filter }

// Stop stops the scheduler, cancels pending removals and captures.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		if a.previewTimer != nil {
			a.previewTimer.Stop()
		}
		a.mu.Unlock()

		if a.sched != nil {
			a.sched.Stop()
		}
		if a.filter != nil {
			a.filter.Close()
		}
		appLog.Info("festpage stopped")
	})
}

// afterPass updates gauges and, when the page changed, schedules a preview
// capture once the fade-out transitions have finished.
func (a *App) afterPass(rep pastevent.Report) {
	if a.metrics != nil {
		a.metrics.SetUpcoming(len(a.filter.Upcoming(a.opts.Clock.Now())))
	}
	if a.preview == nil || (rep.Expired == 0 && rep.Trigger != pastevent.TriggerLoad) {
		return
	}

	// Two transitions: entries first, then emptied sections.
	delay := 2*a.cfg.Filter.TransitionDelay + 500*time.Millisecond

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.previewTimer != nil {
		a.previewTimer.Stop()
	}
	ctx := a.ctx
	a.previewTimer = a.opts.Clock.AfterFunc(delay, func() {
		_ = a.preview.Refresh(ctx)
	})
}

// Selectors converts the configured selectors for the page package.
func Selectors(c config.SelectorConfig) page.Selectors {
	return page.Selectors{
		Event:            c.Event,
		Section:          c.Section,
		DateTitle:        c.DateTitle,
		EventDate:        c.EventDate,
		EventTitle:       c.EventTitle,
		EventDescription: c.EventDescription,
	}
}

// selfURL turns a listen address into a URL the local browser can open.
func selfURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}
