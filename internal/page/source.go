package page

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"

	appLog "festpage/internal/log"
)

//go:embed default.html
var defaultPage []byte

// Source says where the page markup comes from. URL wins over Path; with
// neither set the embedded festival page is used.
type Source struct {
	URL      string
	Path     string
	CacheDir string
	Client   HTTPDoer
}

// LoadSource reads the markup from src and parses it.
func LoadSource(ctx context.Context, src Source, sel Selectors) (*Document, error) {
	var (
		body   []byte
		origin string
	)

	switch {
	case src.URL != "":
		res, err := NewFetcher(src.CacheDir, src.Client).Fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		body, origin = res.Body, redactURL(src.URL)
	case src.Path != "":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("page: read %s: %w", src.Path, err)
		}
		body, origin = data, src.Path
	default:
		body, origin = defaultPage, "embedded"
	}

	doc, err := Load(bytes.NewReader(body), sel)
	if err != nil {
		return nil, err
	}
	appLog.Info("page loaded", "origin", origin, "bytes", len(body), "entries", len(doc.Entries()), "sections", len(doc.Sections()))
	return doc, nil
}
