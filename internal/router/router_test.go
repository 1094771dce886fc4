package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aiwatch/internal/config"
	"aiwatch/internal/model"
	"aiwatch/internal/notify"
	"aiwatch/internal/store"
	"aiwatch/pkg/logx"
)

type countingChannel struct {
	sent []string
}

func (c *countingChannel) Name() string { return "counting" }
func (c *countingChannel) SendRecord(ctx context.Context, kind model.Kind, rec model.Record) error {
	c.sent = append(c.sent, rec.SourceID)
	return nil
}
func (c *countingChannel) SendDigest(ctx context.Context, kind model.Kind, records []model.Record) error {
	return nil
}

func newTestRouter(t *testing.T) (*Router, *store.Store, *countingChannel) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "r.db"), logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ch := &countingChannel{}
	r := New(config.ReleasesConfig{
		VendorsT0: []string{"openai"},
		VendorsT1: []string{"cursor"},
		VendorsT2: []string{"mistral"},
	}, st, notify.NewFanout(logx.Nop(), ch), logx.Nop())
	return r, st, ch
}

func record(origin string, imp model.Importance) model.Record {
	return model.Record{
		Item: model.Item{
			SourceID: origin + ":" + string(imp),
			Origin:   origin,
			Title:    "t",
			URL:      "https://x.example/1",
		},
		Verdict:   model.Verdict{Relevant: true, Importance: imp},
		FetchedAt: time.Now(),
	}
}

func TestTierPolicy(t *testing.T) {
	r, _, _ := newTestRouter(t)

	cases := []struct {
		origin string
		imp    model.Importance
		push   bool
	}{
		{"openai", model.ImportanceLow, true},     // t0 pushes everything
		{"cursor", model.ImportanceMedium, true},  // t1 pushes medium
		{"cursor", model.ImportanceLow, false},    // t1 holds low for digest
		{"mistral", model.ImportanceHigh, true},   // t2 pushes high
		{"mistral", model.ImportanceMedium, false},
		{"someblog", model.ImportanceMedium, true}, // routed origin: high+medium
		{"someblog", model.ImportanceLow, false},
	}
	for _, tc := range cases {
		got := r.shouldPush(model.KindRelease, record(tc.origin, tc.imp))
		if got != tc.push {
			t.Errorf("shouldPush(%s, %s) = %v, want %v", tc.origin, tc.imp, got, tc.push)
		}
	}
}

func TestPostPolicy(t *testing.T) {
	r, _, _ := newTestRouter(t)

	if !r.shouldPush(model.KindPost, record("blog", model.ImportanceHigh)) {
		t.Error("high post should push")
	}
	if !r.shouldPush(model.KindPost, record("blog", model.ImportanceMedium)) {
		t.Error("medium post should push")
	}
	if r.shouldPush(model.KindPost, record("blog", model.ImportanceLow)) {
		t.Error("low post must wait for digest")
	}
}

func TestIrrelevantNeverPushes(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rec := record("openai", model.ImportanceHigh)
	rec.Relevant = false
	if r.shouldPush(model.KindRelease, rec) {
		t.Error("irrelevant record pushed")
	}
}

func TestDispatchMarksNotified(t *testing.T) {
	r, st, ch := newTestRouter(t)
	ctx := context.Background()

	rec := record("openai", model.ImportanceHigh)
	if err := st.Releases().Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := r.Dispatch(ctx, model.KindRelease, rec); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent = %v", ch.sent)
	}

	got, _, err := st.Releases().Get(ctx, rec.SourceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.NotifiedAt == nil {
		t.Fatal("record not marked notified")
	}
}

func TestDispatchHeldRecordStaysUnnotified(t *testing.T) {
	r, st, ch := newTestRouter(t)
	ctx := context.Background()

	rec := record("mistral", model.ImportanceMedium) // t2 holds medium
	if err := st.Releases().Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := r.Dispatch(ctx, model.KindRelease, rec); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(ch.sent) != 0 {
		t.Fatalf("held record was sent: %v", ch.sent)
	}

	got, _, err := st.Releases().Get(ctx, rec.SourceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.NotifiedAt != nil {
		t.Fatal("held record marked notified")
	}
}
