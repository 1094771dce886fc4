package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// SitemapSource describes one sitemap-backed page source.
type SitemapSource struct {
	Name          string   `json:"name"`
	Category      string   `json:"category,omitempty"`
	SitemapURL    string   `json:"sitemap_url"`
	PathPrefixes  []string `json:"path_prefixes,omitempty"`
	MaxArticles   int      `json:"max_articles,omitempty"`
	FetchInterval string   `json:"fetch_interval,omitempty"` // overrides sitemaps.fetch_interval
	// NotifyAs routes items through another kind's pipeline; "release"
	// sends page updates where vendor releases go. Default is "post".
	NotifyAs string `json:"notify_as,omitempty"`
}

type sitemapFile struct {
	Sources []SitemapSource `json:"sources"`
}

// LoadSitemapSources reads the sitemap source list. The file is optional:
// a missing file yields an empty list so the daemon can run without
// sitemap sources configured.
func LoadSitemapSources(path string) ([]SitemapSource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var f sitemapFile
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("sitemap sources: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("sitemap sources: trailing data")
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("sitemap sources: entry %d missing name", i)
		}
		if strings.TrimSpace(s.SitemapURL) == "" {
			return nil, fmt.Errorf("sitemap sources: %q missing sitemap_url", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("sitemap sources: duplicate name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.MaxArticles <= 0 {
			s.MaxArticles = 10
		}
		if s.FetchInterval != "" {
			if _, err := ParseDurationField("fetch_interval", s.FetchInterval); err != nil {
				return nil, fmt.Errorf("sitemap sources: %q: %w", s.Name, err)
			}
		}
		switch s.NotifyAs {
		case "", "release", "post":
		default:
			return nil, fmt.Errorf("sitemap sources: %q: invalid notify_as %q", s.Name, s.NotifyAs)
		}
	}
	return f.Sources, nil
}
