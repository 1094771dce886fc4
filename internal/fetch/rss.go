package fetch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

// feedFanout bounds concurrent feed fetches per cycle.
const feedFanout = 10

// FeedFetcher pulls articles from RSS/Atom feeds listed in the OPML file.
type FeedFetcher struct {
	httpc      *http.Client
	maxPerFeed int
	log        logx.Logger
}

func NewFeedFetcher(maxPerFeed int, log logx.Logger) *FeedFetcher {
	if maxPerFeed <= 0 {
		maxPerFeed = 1
	}
	return &FeedFetcher{
		httpc:      &http.Client{Timeout: 20 * time.Second},
		maxPerFeed: maxPerFeed,
		log:        log.With(logx.String("comp", "fetch.rss")),
	}
}

// FetchAll fetches every feed concurrently. Individual feed failures are
// logged at debug level; unreachable blogs are routine.
func (f *FeedFetcher) FetchAll(ctx context.Context, feeds []FeedSource) []model.Item {
	var (
		mu  sync.Mutex
		all []model.Item
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedFanout)
	for _, feed := range feeds {
		feed := feed
		g.Go(func() error {
			items, err := f.fetchFeed(gctx, feed)
			if err != nil {
				f.log.Debug("feed fetch failed", logx.String("feed", feed.Title), logx.Err(err))
				return nil
			}
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	f.log.Info("fetched feed articles",
		logx.Int("feeds", len(feeds)), logx.Int("items", len(all)))
	return all
}

func (f *FeedFetcher) fetchFeed(ctx context.Context, src FeedSource) ([]model.Item, error) {
	parser := gofeed.NewParser()
	parser.Client = f.httpc
	parser.UserAgent = browserUA

	parsed, err := parser.ParseURLWithContext(src.XMLURL, ctx)
	if err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, f.maxPerFeed)
	for _, entry := range parsed.Items {
		if len(items) >= f.maxPerFeed {
			break
		}
		entryID := entry.GUID
		if entryID == "" {
			entryID = entry.Link
		}
		if entryID == "" {
			entryID = entry.Title
		}
		if entryID == "" {
			continue
		}

		link := entry.Link
		if link == "" {
			link = src.HTMLURL
		}

		summary := truncate(stripHTML(entry.Description), summaryCap)
		if summary == "" {
			summary = entry.Title
		}
		content := entry.Content
		if content == "" {
			content = entry.Description
		}

		items = append(items, model.Item{
			SourceID:       postSourceID(src.Title, entryID),
			Origin:         src.Title,
			OriginCategory: src.Category,
			Title:          entry.Title,
			URL:            link,
			Summary:        summary,
			Published:      entryPublished(entry),
			Content:        truncate(stripHTML(content), postContentCap),
			NotifyAs:       src.NotifyAs,
		})
	}
	return items, nil
}

func entryPublished(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed
	}
	return entry.UpdatedParsed
}
