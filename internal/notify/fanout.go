package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

// Fanout sends to every configured channel concurrently. A send counts
// as delivered when at least one channel accepted it; per-channel
// failures are logged and collected. With no channels configured the
// send is a no-op that still counts as delivered, so the pipeline keeps
// marking records instead of retrying forever.
type Fanout struct {
	channels []Channel
	log      logx.Logger
}

func NewFanout(log logx.Logger, channels ...Channel) *Fanout {
	return &Fanout{channels: channels, log: log.With(logx.String("comp", "notify"))}
}

func (f *Fanout) NotifyRecord(ctx context.Context, kind model.Kind, rec model.Record) error {
	return f.each(ctx, "record", func(ctx context.Context, ch Channel) error {
		return ch.SendRecord(ctx, kind, rec)
	})
}

func (f *Fanout) NotifyDigest(ctx context.Context, kind model.Kind, records []model.Record) error {
	return f.each(ctx, "digest", func(ctx context.Context, ch Channel) error {
		return ch.SendDigest(ctx, kind, records)
	})
}

func (f *Fanout) each(ctx context.Context, what string, send func(context.Context, Channel) error) error {
	if len(f.channels) == 0 {
		f.log.Warn("no notification channels configured")
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		oks  int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range f.channels {
		ch := ch
		g.Go(func() error {
			if err := send(gctx, ch); err != nil {
				f.log.Error("channel send failed",
					logx.String("channel", ch.Name()), logx.String("what", what), logx.Err(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			oks++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if oks == 0 {
		return errors.Join(errs...)
	}
	return nil
}
