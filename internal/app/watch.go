package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"aiwatch/internal/config"
	"aiwatch/pkg/logx"
)

const sitemapJobPrefix = "sitemap."

// reloadSitemapJobs re-reads the sitemap source list and reconciles the
// scheduler against it: new sources get jobs, changed intervals replace
// the schedule in place, removed sources are unregistered.
func (a *App) reloadSitemapJobs() error {
	sources, err := config.LoadSitemapSources(a.cfg.Sitemaps.Path)
	if err != nil {
		return fmt.Errorf("load sitemap sources: %w", err)
	}

	defaultInterval, err := config.ParseDurationField("sitemaps.fetch_interval", a.cfg.Sitemaps.FetchInterval)
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(sources))
	for _, src := range sources {
		interval := defaultInterval
		if src.FetchInterval != "" {
			iv, err := config.ParseDurationField("sources."+src.Name+".fetch_interval", src.FetchInterval)
			if err != nil {
				a.log.Warn("bad source interval, using default",
					logx.String("source", src.Name), logx.Err(err))
			} else {
				interval = iv
			}
		}

		name := sitemapJobPrefix + src.Name
		want[name] = true
		if err := a.sched.AddInterval(name, interval, a.sitemapJob(src)); err != nil {
			a.log.Error("register sitemap job failed",
				logx.String("source", src.Name), logx.Err(err))
		}
	}

	names := a.sched.JobNames()
	sort.Strings(names)
	for _, name := range names {
		if strings.HasPrefix(name, sitemapJobPrefix) && !want[name] {
			a.sched.Remove(name)
			a.log.Info("sitemap source removed", logx.String("job", name))
		}
	}

	a.log.Info("sitemap jobs reconciled", logx.Int("sources", len(sources)))
	return nil
}

// watchSources watches the sitemap source list for edits and reconciles
// the scheduler when it changes. Blog feeds need no watcher: the OPML
// file is re-read on every fetch cycle. Events are debounced because
// editors fire several writes per save.
func (a *App) watchSources(ctx context.Context) (*fsnotify.Watcher, error) {
	if !a.cfg.Sitemaps.Enabled {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(a.cfg.Sitemaps.Path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	file := filepath.Base(a.cfg.Sitemaps.Path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := a.reloadSitemapJobs(); err != nil {
				a.log.Warn("sitemap source reload failed", logx.Err(err))
			}
		})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.EqualFold(filepath.Base(ev.Name), file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					a.log.Debug("sitemap source list changed", logx.String("path", ev.Name))
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if err != nil {
					a.log.Warn("source watcher error", logx.Err(err))
				}
			}
		}
	}()

	a.log.Info("watching sitemap source list", logx.String("path", a.cfg.Sitemaps.Path))
	return w, nil
}
