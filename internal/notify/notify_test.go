package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aiwatch/internal/config"
	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

func testRecord(origin string, imp model.Importance) model.Record {
	return model.Record{
		Item: model.Item{
			SourceID:       origin + ":1",
			Origin:         origin,
			OriginCategory: "Studio",
			Title:          "Release one",
			Version:        "1.2",
			URL:            "https://" + origin + ".example/1",
			Summary:        "Summary text.",
		},
		Verdict: model.Verdict{
			Relevant:          true,
			Importance:        imp,
			Category:          "new_model",
			TitleTranslated:   "发布一",
			SummaryTranslated: "摘要。",
		},
		FetchedAt: time.Now(),
	}
}

func TestSplitHTMLMessageShort(t *testing.T) {
	chunks := splitHTMLMessage("hello\nworld", 4096)
	if len(chunks) != 1 || chunks[0] != "hello\nworld" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitHTMLMessageLong(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, fmt.Sprintf("<b>line %02d</b> %s", i, strings.Repeat("x", 80)))
	}
	text := strings.Join(lines, "\n")

	chunks := splitHTMLMessage(text, 1000)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 1000+20 { // page marker rides on top of the limit
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
		if want := fmt.Sprintf("(%d/%d)", i+1, len(chunks)); !strings.HasSuffix(c, want) {
			t.Errorf("chunk %d missing page marker %q", i, want)
		}
		// No line may be split mid-tag.
		for _, line := range strings.Split(c, "\n") {
			if strings.Count(line, "<b>") != strings.Count(line, "</b>") {
				t.Errorf("broken tag in line %q", line)
			}
		}
	}
}

func TestRenderRecordHTML(t *testing.T) {
	rec := testRecord("acme", model.ImportanceHigh)
	got := renderRecordHTML(model.KindRelease, rec)

	for _, want := range []string{
		"🔥 【重要】",
		"<b>发布一</b>",
		"<i>acme · Studio · 1.2</i>",
		"摘要。",
		`<a href="https://acme.example/1">查看原文</a>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestRenderRecordHTMLPostCategory(t *testing.T) {
	rec := testRecord("Acme Blog", model.ImportanceMedium)
	got := renderRecordHTML(model.KindPost, rec)

	if !strings.Contains(got, "<b>[new_model] 发布一</b>") {
		t.Errorf("category tag missing:\n%s", got)
	}
	if !strings.Contains(got, "<i>Acme Blog</i>") {
		t.Errorf("post meta should be origin only:\n%s", got)
	}
}

func TestRenderRecordHTMLEscapes(t *testing.T) {
	rec := testRecord("acme", model.ImportanceLow)
	rec.TitleTranslated = `<script>"bad"</script>`
	got := renderRecordHTML(model.KindRelease, rec)
	if strings.Contains(got, "<script>") {
		t.Errorf("unescaped HTML in:\n%s", got)
	}
}

func TestRenderDigestHTML(t *testing.T) {
	records := []model.Record{
		testRecord("zeta", model.ImportanceLow),
		testRecord("acme", model.ImportanceMedium),
		testRecord("acme", model.ImportanceHigh),
	}
	got := renderDigestHTML(model.KindRelease, records)

	// Origins lexicographic, importance-first within an origin.
	acmeIdx := strings.Index(got, "<b>ACME</b>")
	zetaIdx := strings.Index(got, "<b>ZETA</b>")
	if acmeIdx == -1 || zetaIdx == -1 || acmeIdx > zetaIdx {
		t.Errorf("origin order wrong:\n%s", got)
	}
	fireIdx := strings.Index(got, "🔥")
	checkIdx := strings.Index(got, "✅")
	if fireIdx == -1 || checkIdx == -1 || fireIdx > checkIdx {
		t.Errorf("importance order wrong:\n%s", got)
	}
	if !strings.Contains(got, "共 3 条更新") {
		t.Errorf("count footer missing:\n%s", got)
	}

	if renderDigestHTML(model.KindRelease, nil) != "" {
		t.Error("empty digest should render empty")
	}
}

type fakeCreator struct {
	calls   int
	nextID  int
	failFor string
}

func (f *fakeCreator) CreateForumTopic(name string, iconColor int) (int, error) {
	if f.failFor != "" && strings.Contains(name, f.failFor) {
		return 0, errors.New("boom")
	}
	f.calls++
	f.nextID++
	return 100 + f.nextID, nil
}

func TestTopicsEnsureAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.json")
	topics := NewTopics(path, logx.Nop())

	creator := &fakeCreator{}
	if err := topics.Ensure(creator); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if creator.calls != len(topicDefs) {
		t.Fatalf("created %d topics, want %d", creator.calls, len(topicDefs))
	}
	if topics.ThreadID("release_high") == 0 || topics.ThreadID("blog_digest") == 0 {
		t.Fatal("thread ids not recorded")
	}
	if topics.ThreadID("unknown_key") != 0 {
		t.Fatal("unknown key should yield 0")
	}

	// A fresh instance loads the persisted file; nothing is re-created.
	again := NewTopics(path, logx.Nop())
	creator2 := &fakeCreator{}
	if err := again.Ensure(creator2); err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	if creator2.calls != 0 {
		t.Fatalf("re-created %d topics, want 0", creator2.calls)
	}
	if again.ThreadID("release_high") != topics.ThreadID("release_high") {
		t.Fatal("persisted thread id mismatch")
	}
}

func TestTopicsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "topics.json")
	topics := NewTopics(path, logx.Nop())
	if err := topics.Ensure(&fakeCreator{}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read topics file: %v", err)
	}
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("topics file not valid JSON: %v", err)
	}
	if len(m) != len(topicDefs) {
		t.Fatalf("file has %d entries, want %d", len(m), len(topicDefs))
	}
}

func newFeishuServer(t *testing.T, code int) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		payloads = append(payloads, p)
		fmt.Fprintf(w, `{"code": %d, "msg": "ok"}`, code)
	}))
	t.Cleanup(srv.Close)
	return srv, &payloads
}

func TestFeishuSendRecord(t *testing.T) {
	srv, payloads := newFeishuServer(t, 0)
	f := NewFeishu(config.FeishuConfig{
		ReleaseWebhookURL: srv.URL + "/release",
		BlogWebhookURL:    srv.URL + "/blog",
	}, logx.Nop())

	if err := f.SendRecord(context.Background(), model.KindRelease, testRecord("acme", model.ImportanceHigh)); err != nil {
		t.Fatalf("SendRecord: %v", err)
	}
	if len(*payloads) != 1 {
		t.Fatalf("payloads = %d", len(*payloads))
	}
	p := (*payloads)[0]
	if p["msg_type"] != "interactive" {
		t.Errorf("msg_type = %v", p["msg_type"])
	}
	card := p["card"].(map[string]any)
	header := card["header"].(map[string]any)
	if header["template"] != "red" {
		t.Errorf("header color = %v", header["template"])
	}
}

func TestFeishuErrorCode(t *testing.T) {
	srv, _ := newFeishuServer(t, 19001)
	f := NewFeishu(config.FeishuConfig{ReleaseWebhookURL: srv.URL}, logx.Nop())
	if err := f.SendRecord(context.Background(), model.KindRelease, testRecord("acme", model.ImportanceLow)); err == nil {
		t.Fatal("expected error for non-zero code")
	}
}

type fakeChannel struct {
	name string
	err  error
	sent int
}

func (c *fakeChannel) Name() string { return c.name }
func (c *fakeChannel) SendRecord(ctx context.Context, kind model.Kind, rec model.Record) error {
	c.sent++
	return c.err
}
func (c *fakeChannel) SendDigest(ctx context.Context, kind model.Kind, records []model.Record) error {
	c.sent++
	return c.err
}

func TestFanoutPartialFailure(t *testing.T) {
	good := &fakeChannel{name: "good"}
	bad := &fakeChannel{name: "bad", err: errors.New("down")}
	f := NewFanout(logx.Nop(), good, bad)

	if err := f.NotifyRecord(context.Background(), model.KindRelease, testRecord("acme", model.ImportanceHigh)); err != nil {
		t.Fatalf("one healthy channel should be enough: %v", err)
	}
	if good.sent != 1 || bad.sent != 1 {
		t.Errorf("sent = %d / %d", good.sent, bad.sent)
	}
}

func TestFanoutAllFail(t *testing.T) {
	a := &fakeChannel{name: "a", err: errors.New("down")}
	b := &fakeChannel{name: "b", err: errors.New("also down")}
	f := NewFanout(logx.Nop(), a, b)

	if err := f.NotifyDigest(context.Background(), model.KindPost, []model.Record{testRecord("x", model.ImportanceHigh)}); err == nil {
		t.Fatal("expected error when every channel fails")
	}
}

func TestFanoutNoChannels(t *testing.T) {
	f := NewFanout(logx.Nop())
	if err := f.NotifyRecord(context.Background(), model.KindRelease, testRecord("acme", model.ImportanceHigh)); err != nil {
		t.Fatalf("no channels should be a no-op: %v", err)
	}
}
