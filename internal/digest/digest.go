// Package digest builds and sends the daily roll-up of records that were
// not pushed individually (or were, but belong in the day's summary).
package digest

import (
	"context"
	"time"

	"aiwatch/internal/model"
	"aiwatch/internal/notify"
	"aiwatch/internal/store"
	"aiwatch/pkg/logx"
)

// window is how far back a digest reaches. Records older than this are
// considered covered by a previous digest run.
const window = 24 * time.Hour

type Builder struct {
	st     *store.Store
	fanout *notify.Fanout
	log    logx.Logger
}

func New(st *store.Store, fanout *notify.Fanout, log logx.Logger) *Builder {
	return &Builder{st: st, fanout: fanout, log: log.With(logx.String("comp", "digest"))}
}

// Run sends one kind's digest and stamps the included records. Records
// are stamped even when delivery fails: a digest is sent once per day,
// not retried, and the next day's digest should not re-report old items.
func (b *Builder) Run(ctx context.Context, kind model.Kind) error {
	since := time.Now().UTC().Add(-window)
	records, err := b.st.ForKind(kind).ListUndigested(ctx, since)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		b.log.Info("nothing to digest", logx.String("kind", string(kind)))
		return nil
	}

	sendErr := b.fanout.NotifyDigest(ctx, kind, records)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.SourceID
	}
	if err := b.st.ForKind(kind).MarkDigested(ctx, ids, time.Now().UTC()); err != nil {
		return err
	}

	b.log.Info("digest sent",
		logx.String("kind", string(kind)), logx.Int("records", len(records)))
	return sendErr
}
