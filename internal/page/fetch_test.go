package page

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestFetcherUsesETagCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("<html><body>v1</body></html>"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	ctx := context.Background()

	first, err := f.Fetch(ctx, srv.URL+"/index.html")
	if err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	if first.FromCache || !strings.Contains(string(first.Body), "v1") {
		t.Fatalf("first Fetch() = %+v", first)
	}

	second, err := f.Fetch(ctx, srv.URL+"/index.html")
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if !second.FromCache || string(second.Body) != string(first.Body) {
		t.Errorf("second Fetch() should reuse cache, got %+v", second)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("network down")
}

func TestFetcherFallsBackToCacheOnError(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>cached</p>"))
	}))
	url := srv.URL + "/page"

	if _, err := NewFetcher(dir, srv.Client()).Fetch(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	srv.Close()

	res, err := NewFetcher(dir, failingDoer{}).Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.FromCache || string(res.Body) != "<p>cached</p>" {
		t.Errorf("Fetch() = %+v", res)
	}

	if _, err := NewFetcher(t.TempDir(), failingDoer{}).Fetch(context.Background(), url); err == nil {
		t.Error("expected error without a cached body")
	}
}

func TestFetcherNonOKWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	if _, err := NewFetcher(t.TempDir(), srv.Client()).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 410 without cache")
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://example.org/private/page.html?token=abcd")
	if got != "https://example.org/...(redacted)" {
		t.Errorf("redactURL() = %q", got)
	}
	if got := redactURL("not a url"); got != "page://...(redacted)" {
		t.Errorf("redactURL(garbage) = %q", got)
	}
}
