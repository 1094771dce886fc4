package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aiwatch/internal/graphdec"
	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

const releasebotBaseURL = "https://releasebot.io/updates"

// vendorFanout bounds concurrent vendor fetches per cycle.
const vendorFanout = 10

// ReleaseFetcher pulls vendor release histories from releasebot.io
// __data.json endpoints.
type ReleaseFetcher struct {
	httpc        *http.Client
	baseURL      string
	maxPerVendor int
	log          logx.Logger
}

func NewReleaseFetcher(maxPerVendor int, log logx.Logger) *ReleaseFetcher {
	if maxPerVendor <= 0 {
		maxPerVendor = 1
	}
	return &ReleaseFetcher{
		httpc:        &http.Client{Timeout: 30 * time.Second},
		baseURL:      releasebotBaseURL,
		maxPerVendor: maxPerVendor,
		log:          log.With(logx.String("comp", "fetch.release")),
	}
}

// FetchVendors fetches all vendors concurrently. Per-vendor failures are
// logged and skipped; the cycle continues with whatever succeeded.
func (f *ReleaseFetcher) FetchVendors(ctx context.Context, vendors []string) []model.Item {
	var (
		mu  sync.Mutex
		all []model.Item
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(vendorFanout)
	for _, vendor := range vendors {
		vendor := vendor
		g.Go(func() error {
			items, err := f.fetchVendor(gctx, vendor)
			if err != nil {
				f.log.Error("vendor fetch failed", logx.String("vendor", vendor), logx.Err(err))
				return nil
			}
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return all
}

func (f *ReleaseFetcher) fetchVendor(ctx context.Context, vendor string) ([]model.Item, error) {
	url := fmt.Sprintf("%s/%s/__data.json", f.baseURL, vendor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	items := f.parsePayload(payload, vendor)
	f.log.Info("fetched vendor releases",
		logx.String("vendor", vendor), logx.Int("items", len(items)))
	return items, nil
}

func (f *ReleaseFetcher) parsePayload(payload map[string]any, vendor string) []model.Item {
	cells, shape, ok := graphdec.FindRecordList(payload, "releases")
	if !ok {
		f.log.Warn("no releases node in payload", logx.String("vendor", vendor))
		return nil
	}

	relIdx, ok := graphdec.Index(shape["releases"])
	if !ok || relIdx < 0 || relIdx >= len(cells) {
		return nil
	}
	indices, ok := graphdec.IndexList(cells[relIdx])
	if !ok {
		return nil
	}

	var items []model.Item
	for _, ridx := range indices {
		if len(items) >= f.maxPerVendor {
			break
		}
		if ridx < 0 || ridx >= len(cells) {
			continue
		}
		relShape, ok := cells[ridx].(map[string]any)
		if !ok {
			continue
		}
		rel := graphdec.Resolve(cells, relShape, 0)
		if it, ok := f.buildItem(rel, vendor); ok {
			items = append(items, it)
		}
	}
	return items
}

func (f *ReleaseFetcher) buildItem(rel map[string]any, vendor string) (model.Item, bool) {
	id := scalarString(rel["id"])
	if id == "" {
		return model.Item{}, false
	}

	details := subMap(rel, "release_details")
	product := subMap(rel, "product")
	source := subMap(rel, "source")

	title := scalarString(details["release_name"])
	if title == "" {
		title = scalarString(rel["slug"])
	}
	summary := scalarString(details["release_summary"])
	version := scalarString(details["release_number"])

	productName := scalarString(product["display_name"])
	if productName == "" {
		productName = vendor
	}

	sourceURL := scalarString(source["source_url"])
	if sourceURL == "" {
		sourceURL = f.baseURL + "/" + vendor
	}

	published := parseISOTime(scalarString(rel["release_date"]))
	if published == nil {
		published = parseISOTime(scalarString(rel["created_at"]))
	}

	content := scalarString(rel["formatted_content"])
	if content == "" {
		content = summary
	}

	if summary == "" {
		summary = title
	}

	return model.Item{
		SourceID:       vendor + ":" + id,
		Origin:         vendor,
		OriginCategory: productName,
		Title:          title,
		Version:        version,
		URL:            sourceURL,
		Summary:        truncate(summary, summaryCap),
		Published:      published,
		Content:        truncate(content, releaseContentCap),
		NotifyAs:       model.KindRelease,
	}, true
}
