package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"aiwatch/internal/config"
	"aiwatch/internal/model"
	"aiwatch/internal/urlnorm"
	"aiwatch/pkg/logx"
)

// pageFanout bounds concurrent page-metadata fetches per sitemap.
const pageFanout = 5

// SitemapFetcher covers sites without feeds: it reads their sitemap,
// filters URLs by path prefix, and scrapes page metadata for the newest
// entries.
type SitemapFetcher struct {
	httpc *http.Client
	log   logx.Logger
}

func NewSitemapFetcher(log logx.Logger) *SitemapFetcher {
	return &SitemapFetcher{
		httpc: &http.Client{Timeout: 20 * time.Second},
		log:   log.With(logx.String("comp", "fetch.sitemap")),
	}
}

// urlset element names match any sitemap schema namespace variant
// (http:// and https:// are both seen in the wild).
type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string      `xml:"loc"`
	LastMod string      `xml:"lastmod"`
	News    sitemapNews `xml:"news"`
}

type sitemapNews struct {
	PublicationDate string `xml:"publication_date"`
}

type sitemapEntry struct {
	loc     string
	lastMod *time.Time
}

// Fetch returns items for the newest matching pages of one sitemap source.
func (f *SitemapFetcher) Fetch(ctx context.Context, src config.SitemapSource) ([]model.Item, error) {
	body, err := f.get(ctx, src.SitemapURL)
	if err != nil {
		return nil, fmt.Errorf("sitemap %s: %w", src.Name, err)
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("sitemap %s: parse: %w", src.Name, err)
	}

	entries := make([]sitemapEntry, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || !matchesPrefix(loc, src.PathPrefixes) {
			continue
		}
		lastMod := parseISOTime(u.LastMod)
		if lastMod == nil {
			lastMod = parseISOTime(u.News.PublicationDate)
		}
		entries = append(entries, sitemapEntry{loc: loc, lastMod: lastMod})
	}

	// Newest first; entries without lastmod sort last. Stable keeps the
	// sitemap's own order within ties.
	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].lastMod, entries[j].lastMod
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})
	if len(entries) > src.MaxArticles {
		entries = entries[:src.MaxArticles]
	}
	if len(entries) == 0 {
		return nil, nil
	}

	notifyAs := model.KindPost
	if src.NotifyAs == "release" {
		notifyAs = model.KindRelease
	}

	// Each goroutine writes its own slot; g.Wait orders the reads.
	items := make([]model.Item, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageFanout)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			items[i] = f.pageItem(gctx, src, e, notifyAs)
			return nil
		})
	}
	_ = g.Wait()

	f.log.Info("fetched sitemap pages",
		logx.String("source", src.Name), logx.Int("items", len(items)))
	return items, nil
}

// pageItem scrapes one page's title and description. Scrape failures
// still yield an item; the URL path supplies a fallback title.
func (f *SitemapFetcher) pageItem(ctx context.Context, src config.SitemapSource, e sitemapEntry, notifyAs model.Kind) model.Item {
	var title, description string
	if body, err := f.get(ctx, e.loc); err == nil {
		title, description = extractPageMeta(body)
	} else {
		f.log.Debug("page fetch failed", logx.String("url", e.loc), logx.Err(err))
	}
	if title == "" {
		title = titleFromPath(e.loc)
	}

	summary := description
	if summary == "" {
		summary = title
	}

	return model.Item{
		SourceID:       postSourceID(src.Name, urlnorm.Normalize(e.loc)),
		Origin:         src.Name,
		OriginCategory: src.Category,
		Title:          title,
		URL:            e.loc,
		Summary:        truncate(summary, summaryCap),
		Published:      e.lastMod,
		Content:        truncate(description, postContentCap),
		NotifyAs:       notifyAs,
	}
}

func (f *SitemapFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)
	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func matchesPrefix(loc string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(u.Path, p) {
			return true
		}
	}
	return false
}

// extractPageMeta pulls <title> and the description meta tag (plain or
// OpenGraph) out of an HTML page.
func extractPageMeta(body []byte) (title, description string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", ""
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())

	for _, sel := range []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
	} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if c := strings.TrimSpace(content); c != "" {
				description = c
				break
			}
		}
	}
	return title, description
}

// titleFromPath turns "/blog/agentic-coding" into "Agentic Coding".
func titleFromPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segs[len(segs)-1]
	words := strings.Split(strings.ReplaceAll(last, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
