package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"aiwatch/internal/classify"
	"aiwatch/internal/config"
	"aiwatch/internal/model"
	"aiwatch/internal/notify"
	"aiwatch/internal/router"
	"aiwatch/internal/store"
	"aiwatch/pkg/logx"
)

type fakeClassifier struct {
	verdict model.Verdict
	err     error
	calls   int
}

func (f *fakeClassifier) ClassifyRelease(ctx context.Context, it model.Item) (model.Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

func (f *fakeClassifier) ClassifyPost(ctx context.Context, it model.Item) (model.Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

type sink struct {
	sent []string
}

func (s *sink) Name() string { return "sink" }
func (s *sink) SendRecord(ctx context.Context, kind model.Kind, rec model.Record) error {
	s.sent = append(s.sent, rec.SourceID)
	return nil
}
func (s *sink) SendDigest(ctx context.Context, kind model.Kind, records []model.Record) error {
	return nil
}

func newPipeline(t *testing.T, cl Classifier) (*Pipeline, *store.Store, *sink) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "p.db"), logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ch := &sink{}
	r := router.New(config.ReleasesConfig{VendorsT0: []string{"acme"}},
		st, notify.NewFanout(logx.Nop(), ch), logx.Nop())
	return New(st, cl, r, logx.Nop()), st, ch
}

func item(id string, kind model.Kind) model.Item {
	return model.Item{
		SourceID: id,
		Origin:   "acme",
		Title:    "Title " + id,
		URL:      "https://acme.example/" + id,
		Summary:  "Summary",
		NotifyAs: kind,
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	cl := &fakeClassifier{verdict: model.Verdict{Relevant: true, Importance: model.ImportanceHigh}}
	p, _, ch := newPipeline(t, cl)
	ctx := context.Background()

	items := []model.Item{item("acme:1", model.KindRelease), item("acme:2", model.KindRelease)}
	if n := p.Ingest(ctx, items); n != 2 {
		t.Fatalf("first ingest processed %d, want 2", n)
	}
	if len(ch.sent) != 2 {
		t.Fatalf("sent = %v", ch.sent)
	}

	// Re-ingesting the same batch classifies and notifies nothing new.
	callsBefore := cl.calls
	if n := p.Ingest(ctx, items); n != 0 {
		t.Fatalf("second ingest processed %d, want 0", n)
	}
	if cl.calls != callsBefore {
		t.Error("already-seen items were re-classified")
	}
	if len(ch.sent) != 2 {
		t.Fatalf("duplicate notifications: %v", ch.sent)
	}
}

func TestIngestRoutesByNotifyAs(t *testing.T) {
	cl := &fakeClassifier{verdict: model.Verdict{Relevant: true, Importance: model.ImportanceHigh}}
	p, st, _ := newPipeline(t, cl)
	ctx := context.Background()

	p.Ingest(ctx, []model.Item{
		item("rel:1", model.KindRelease),
		item("post:1", model.KindPost),
		item("default:1", ""), // unset NotifyAs lands in the post store
	})

	if seen, _ := st.Releases().Seen(ctx, "rel:1"); !seen {
		t.Error("release item missing from release store")
	}
	if seen, _ := st.Posts().Seen(ctx, "post:1"); !seen {
		t.Error("post item missing from post store")
	}
	if seen, _ := st.Posts().Seen(ctx, "default:1"); !seen {
		t.Error("default item missing from post store")
	}
	if seen, _ := st.Releases().Seen(ctx, "post:1"); seen {
		t.Error("post item leaked into release store")
	}
}

func TestIngestReleaseFailureFallsOpen(t *testing.T) {
	cl := &fakeClassifier{err: fmt.Errorf("%w: api down", classify.ErrClassification)}
	p, st, ch := newPipeline(t, cl)
	ctx := context.Background()

	p.Ingest(ctx, []model.Item{item("acme:1", model.KindRelease)})

	rec, ok, err := st.Releases().Get(ctx, "acme:1")
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if !rec.Relevant || rec.Importance != model.ImportanceMedium {
		t.Errorf("fallback verdict = %+v", rec.Verdict)
	}
	if rec.TitleTranslated != rec.Title {
		t.Errorf("fallback title should be untranslated, got %q", rec.TitleTranslated)
	}
	// acme is t0, medium pushes.
	if len(ch.sent) != 1 {
		t.Errorf("fallback record not pushed: %v", ch.sent)
	}
}

func TestIngestPostFailureFallsOpen(t *testing.T) {
	cl := &fakeClassifier{err: fmt.Errorf("%w: api down", classify.ErrClassification)}
	p, st, ch := newPipeline(t, cl)
	ctx := context.Background()

	p.Ingest(ctx, []model.Item{item("blog:1", model.KindPost)})

	rec, ok, err := st.Posts().Get(ctx, "blog:1")
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if !rec.Relevant || rec.Importance != model.ImportanceMedium {
		t.Errorf("fallback verdict = %+v", rec.Verdict)
	}
	// Posts push at medium, so the fallback record goes out.
	if len(ch.sent) != 1 {
		t.Errorf("fallback post not pushed: %v", ch.sent)
	}
	// Stored either way, so the next cycle does not retry it.
	if seen, _ := st.Posts().Seen(ctx, "blog:1"); !seen {
		t.Error("failed post not recorded as seen")
	}
}

func TestIngestIrrelevantStoredNotPushed(t *testing.T) {
	cl := &fakeClassifier{verdict: model.Verdict{Relevant: false}}
	p, st, ch := newPipeline(t, cl)
	ctx := context.Background()

	p.Ingest(ctx, []model.Item{item("acme:1", model.KindRelease)})

	if seen, _ := st.Releases().Seen(ctx, "acme:1"); !seen {
		t.Error("irrelevant record not stored")
	}
	if len(ch.sent) != 0 {
		t.Errorf("irrelevant record pushed: %v", ch.sent)
	}
}
