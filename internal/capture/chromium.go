package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"festpage/internal/fsutil"
	appLog "festpage/internal/log"
)

// Default capture parameters for the page preview.
const (
	DefaultWidth      = 1280
	DefaultHeight     = 2000
	DefaultTimeoutSec = 30
	DefaultReady      = "body"
)

// CaptureOptions defines parameters for a Chromium-based screenshot capture.
type CaptureOptions struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath is where the PNG screenshot will be written, e.g.
	// "/var/lib/festpage/preview.png".
	OutputPath string

	// Width and Height are the viewport dimensions in pixels.
	Width  int
	Height int

	// Timeout bounds the entire capture operation.
	Timeout time.Duration

	// ReadySelector must be visible before the screenshot is taken.
	ReadySelector string

	// Username and Password, when set, are sent as Basic Auth so the
	// browser can load a protected page.
	Username string
	Password string
}

func (o *CaptureOptions) normalize() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	if o.ReadySelector == "" {
		o.ReadySelector = DefaultReady
	}
	return nil
}

// CapturePagePNG opens opts.URL in headless Chromium, waits for
// opts.ReadySelector and the fade-out transitions to settle, and writes a
// full-page PNG to opts.OutputPath.
func CapturePagePNG(parentCtx context.Context, opts CaptureOptions) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if opts.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		tasks = append(tasks,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": "Basic " + cred}),
		)
	}
	tasks = append(tasks,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(opts.ReadySelector, chromedp.ByQuery),
		// Leaving entries fade for 0.5s in the page stylesheet.
		chromedp.Sleep(600*time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := fsutil.WriteFileAtomic(opts.OutputPath, png, ".festpage-preview-*.tmp"); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return nil
}

// Previewer serializes captures of the served page.
type Previewer struct {
	opts    CaptureOptions
	capture func(context.Context, CaptureOptions) error

	mu   sync.Mutex
	last time.Time
}

func NewPreviewer(opts CaptureOptions) (*Previewer, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &Previewer{opts: opts, capture: CapturePagePNG}, nil
}

// Path is where the preview PNG is written.
func (p *Previewer) Path() string { return p.opts.OutputPath }

// Refresh takes a new screenshot. Concurrent calls run one after another.
func (p *Previewer) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	if err := p.capture(ctx, p.opts); err != nil {
		appLog.Error("preview capture failed", err, "url", p.opts.URL)
		return err
	}
	p.last = time.Now()
	appLog.Info("preview captured", "path", p.opts.OutputPath, "took", time.Since(start).String())
	return nil
}

// LastCaptured returns the time of the last successful capture.
func (p *Previewer) LastCaptured() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
