// Package app wires the daemon together: stores, channels, fetchers,
// pipeline, scheduler and the source-list watcher.
package app

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	"aiwatch/internal/classify"
	"aiwatch/internal/config"
	"aiwatch/internal/digest"
	"aiwatch/internal/fetch"
	"aiwatch/internal/notify"
	"aiwatch/internal/pipeline"
	"aiwatch/internal/router"
	"aiwatch/internal/scheduler"
	"aiwatch/internal/store"
	"aiwatch/pkg/logx"
)

type App struct {
	cfg *config.Config
	log logx.Logger

	st       *store.Store
	topics   *notify.Topics
	telegram *notify.Telegram
	fanout   *notify.Fanout
	pipe     *pipeline.Pipeline
	digests  *digest.Builder
	sched    *scheduler.Service

	releases *fetch.ReleaseFetcher
	feeds    *fetch.FeedFetcher
	sitemaps *fetch.SitemapFetcher
}

func New(cfg *config.Config, log logx.Logger) (*App, error) {
	st, err := store.Open(cfg.Storage.Path, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{cfg: cfg, log: log, st: st}

	var channels []notify.Channel
	if cfg.Telegram.Enabled {
		a.topics = notify.NewTopics(cfg.Telegram.TopicsPath, log)
		tg, err := notify.NewTelegram(cfg.Telegram, a.topics, log)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.telegram = tg
		channels = append(channels, tg)
	}
	if cfg.Feishu.Enabled {
		channels = append(channels, notify.NewFeishu(cfg.Feishu, log))
	}
	a.fanout = notify.NewFanout(log, channels...)

	rt := router.New(cfg.Releases, st, a.fanout, log)
	a.pipe = pipeline.New(st, classify.New(cfg.Classifier, log), rt, log)
	a.digests = digest.New(st, a.fanout, log)

	a.releases = fetch.NewReleaseFetcher(cfg.Releases.MaxPerVendor, log)
	a.feeds = fetch.NewFeedFetcher(cfg.Blogs.MaxPerFeed, log)
	a.sitemaps = fetch.NewSitemapFetcher(log)

	a.sched = scheduler.New(scheduler.Config{
		Workers:  4,
		Timezone: cfg.Timezone,
	}, log)

	return a, nil
}

// Run starts the daemon and blocks until ctx is cancelled. In-flight
// jobs are drained before it returns.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting aiwatch")

	if a.telegram != nil {
		if err := a.topics.Ensure(a.telegram); err != nil {
			_ = a.st.Close()
			return fmt.Errorf("ensure topics: %w", err)
		}
	}

	a.sched.Start()
	if err := a.registerJobs(); err != nil {
		a.sched.Stop()
		_ = a.st.Close()
		return err
	}

	watcher, err := a.watchSources(ctx)
	if err != nil {
		a.log.Warn("source watcher unavailable", logx.Err(err))
	}

	// First pass right away; the scheduler only covers subsequent ticks.
	a.initialFetch(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("aiwatch ready")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("shutting down")

	if watcher != nil {
		_ = watcher.Close()
	}
	for _, js := range a.sched.Snapshot() {
		a.log.Debug("job summary",
			logx.String("job", js.Name), logx.Int("runs", js.Runs),
			logx.String("last_err", js.LastErr))
	}
	a.sched.Stop()
	if err := a.st.Close(); err != nil {
		a.log.Error("close store", logx.Err(err))
	}
	a.log.Info("shutdown complete")
	return nil
}

func (a *App) registerJobs() error {
	cfg := a.cfg

	if cfg.Releases.Enabled {
		interval, err := config.ParseDurationField("releases.fetch_interval", cfg.Releases.FetchInterval)
		if err != nil {
			return err
		}
		if err := a.sched.AddInterval("releases.fetch", interval, a.fetchReleasesJob); err != nil {
			return err
		}
		if err := a.sched.AddDaily("releases.digest", cfg.Releases.DigestAt, a.releaseDigestJob); err != nil {
			return err
		}
	}

	if cfg.Blogs.Enabled {
		interval, err := config.ParseDurationField("blogs.fetch_interval", cfg.Blogs.FetchInterval)
		if err != nil {
			return err
		}
		if err := a.sched.AddInterval("blogs.fetch", interval, a.fetchBlogsJob); err != nil {
			return err
		}
		if err := a.sched.AddDaily("blogs.digest", cfg.Blogs.DigestAt, a.blogDigestJob); err != nil {
			return err
		}
	}

	if cfg.Sitemaps.Enabled {
		if err := a.reloadSitemapJobs(); err != nil {
			a.log.Error("sitemap sources unavailable", logx.Err(err))
		}
	}

	weekday, err := config.ParseWeekday(cfg.Retention.CleanupDay)
	if err != nil {
		return err
	}
	if err := a.sched.AddWeekly("retention.cleanup", weekday, cfg.Retention.CleanupAt, a.cleanupJob); err != nil {
		return err
	}
	return nil
}

// initialFetch mirrors what the interval jobs do, once, so a fresh start
// does not wait out the first interval.
func (a *App) initialFetch(ctx context.Context) {
	if a.cfg.Releases.Enabled {
		if err := a.fetchReleasesJob(ctx); err != nil {
			a.log.Error("initial release fetch failed", logx.Err(err))
		}
	}
	if a.cfg.Blogs.Enabled {
		if err := a.fetchBlogsJob(ctx); err != nil {
			a.log.Error("initial blog fetch failed", logx.Err(err))
		}
	}
	if a.cfg.Sitemaps.Enabled {
		sources, err := config.LoadSitemapSources(a.cfg.Sitemaps.Path)
		if err != nil {
			a.log.Error("initial sitemap load failed", logx.Err(err))
			return
		}
		for _, src := range sources {
			if err := a.sitemapJob(src)(ctx); err != nil {
				a.log.Error("initial sitemap fetch failed",
					logx.String("source", src.Name), logx.Err(err))
			}
		}
	}
}
