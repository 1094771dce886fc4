package app

import (
	"context"
	"fmt"
	"time"

	"aiwatch/internal/config"
	"aiwatch/internal/fetch"
	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

func (a *App) fetchReleasesJob(ctx context.Context) error {
	vendors := a.cfg.Releases.AllVendors()
	items := a.releases.FetchVendors(ctx, vendors)
	n := a.pipe.Ingest(ctx, items)
	a.log.Info("release fetch cycle done",
		logx.Int("vendors", len(vendors)), logx.Int("fetched", len(items)), logx.Int("new", n))
	return nil
}

func (a *App) fetchBlogsJob(ctx context.Context) error {
	feeds, err := fetch.ParseOPML(a.cfg.Blogs.OPMLPath)
	if err != nil {
		return fmt.Errorf("parse opml: %w", err)
	}
	items := a.feeds.FetchAll(ctx, feeds)
	n := a.pipe.Ingest(ctx, items)
	a.log.Info("blog fetch cycle done",
		logx.Int("feeds", len(feeds)), logx.Int("fetched", len(items)), logx.Int("new", n))
	return nil
}

// sitemapJob binds one configured sitemap source to a job closure.
func (a *App) sitemapJob(src config.SitemapSource) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		items, err := a.sitemaps.Fetch(ctx, src)
		if err != nil {
			return fmt.Errorf("sitemap %s: %w", src.Name, err)
		}
		n := a.pipe.Ingest(ctx, items)
		a.log.Info("sitemap fetch cycle done",
			logx.String("source", src.Name), logx.Int("fetched", len(items)), logx.Int("new", n))
		return nil
	}
}

func (a *App) releaseDigestJob(ctx context.Context) error {
	return a.digests.Run(ctx, model.KindRelease)
}

func (a *App) blogDigestJob(ctx context.Context) error {
	return a.digests.Run(ctx, model.KindPost)
}

// cleanupJob drops records older than the retention window from both
// tables. It runs weekly, so one missed pass only delays the purge.
func (a *App) cleanupJob(ctx context.Context) error {
	maxAge, err := config.ParseDurationField("retention.max_age", a.cfg.Retention.MaxAge)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	releases, err := a.st.Releases().Purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge releases: %w", err)
	}
	posts, err := a.st.Posts().Purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge posts: %w", err)
	}
	a.log.Info("retention cleanup done",
		logx.String("cutoff", cutoff.Format(time.RFC3339)),
		logx.Int("releases", int(releases)), logx.Int("posts", int(posts)))
	return nil
}
