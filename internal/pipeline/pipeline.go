// Package pipeline runs fetched items through dedup, classification,
// persistence and immediate-push routing.
package pipeline

import (
	"context"
	"errors"
	"time"

	"aiwatch/internal/classify"
	"aiwatch/internal/model"
	"aiwatch/internal/router"
	"aiwatch/internal/store"
	"aiwatch/pkg/logx"
)

// Classifier is the slice of classify.Client the pipeline needs.
type Classifier interface {
	ClassifyRelease(ctx context.Context, it model.Item) (model.Verdict, error)
	ClassifyPost(ctx context.Context, it model.Item) (model.Verdict, error)
}

type Pipeline struct {
	st         *store.Store
	classifier Classifier
	router     *router.Router
	log        logx.Logger
}

func New(st *store.Store, classifier Classifier, r *router.Router, log logx.Logger) *Pipeline {
	return &Pipeline{
		st:         st,
		classifier: classifier,
		router:     r,
		log:        log.With(logx.String("comp", "pipeline")),
	}
}

// Ingest processes a batch of fetched items. Each item runs through its
// NotifyAs pipeline: dedup against the store, classify, persist, then
// dispatch. Item failures are isolated; one bad item never stops the
// batch. Returns how many items were new.
func (p *Pipeline) Ingest(ctx context.Context, items []model.Item) int {
	processed := 0
	for _, it := range items {
		kind := it.NotifyAs
		if kind != model.KindRelease {
			kind = model.KindPost
		}
		rs := p.st.ForKind(kind)

		seen, err := rs.Seen(ctx, it.SourceID)
		if err != nil {
			p.log.Error("seen check failed",
				logx.String("source_id", it.SourceID), logx.Err(err))
			continue
		}
		if seen {
			continue
		}

		rec := model.Record{
			Item:      it,
			Verdict:   p.classifyItem(ctx, kind, it),
			FetchedAt: time.Now().UTC(),
		}
		if err := rs.Upsert(ctx, rec); err != nil {
			p.log.Error("persist failed",
				logx.String("source_id", it.SourceID), logx.Err(err))
			continue
		}
		processed++

		if err := p.router.Dispatch(ctx, kind, rec); err != nil {
			// Already logged by the router; the record stays stored and
			// unnotified, and the digest will still cover it.
			continue
		}
	}
	return processed
}

// classifyItem fails open: a classifier outage yields a relevant/medium
// untranslated verdict so new content is never silently lost. The item
// is persisted either way and will not be re-classified.
func (p *Pipeline) classifyItem(ctx context.Context, kind model.Kind, it model.Item) model.Verdict {
	var (
		v   model.Verdict
		err error
	)
	if kind == model.KindRelease {
		v, err = p.classifier.ClassifyRelease(ctx, it)
	} else {
		v, err = p.classifier.ClassifyPost(ctx, it)
	}
	if err == nil {
		return v
	}
	if !errors.Is(err, classify.ErrClassification) {
		p.log.Error("unexpected classifier error",
			logx.String("source_id", it.SourceID), logx.Err(err))
	} else {
		p.log.Warn("classification failed",
			logx.String("source_id", it.SourceID), logx.Err(err))
	}
	return model.FallbackVerdict(it)
}
