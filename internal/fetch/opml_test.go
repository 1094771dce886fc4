package fetch

import (
	"os"
	"path/filepath"
	"testing"

	"aiwatch/internal/model"
)

const testOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Blogs</title></head>
  <body>
    <outline title="AI Coding" text="AI Coding">
      <outline type="rss" title="Acme Engineering" xmlUrl="https://acme.example/feed.xml" htmlUrl="https://acme.example/blog"/>
      <outline type="rss" text="Beta Changelog" xmlUrl="https://beta.example/rss" notifyAs="release"/>
      <outline type="link" title="Not a feed" xmlUrl="https://skip.example/feed"/>
      <outline type="rss" title="No URL"/>
    </outline>
    <outline title="Research">
      <outline type="RSS" title="Gamma Lab" xmlUrl="https://gamma.example/atom.xml"/>
    </outline>
  </body>
</opml>`

func TestParseOPML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "blogs.opml")
	if err := os.WriteFile(p, []byte(testOPML), 0o644); err != nil {
		t.Fatalf("write opml: %v", err)
	}

	feeds, err := ParseOPML(p)
	if err != nil {
		t.Fatalf("ParseOPML: %v", err)
	}
	if len(feeds) != 3 {
		t.Fatalf("feeds = %d, want 3 (%+v)", len(feeds), feeds)
	}

	if feeds[0].Title != "Acme Engineering" || feeds[0].Category != "AI Coding" {
		t.Errorf("first feed = %+v", feeds[0])
	}
	if feeds[0].NotifyAs != model.KindPost {
		t.Errorf("default NotifyAs = %q", feeds[0].NotifyAs)
	}

	// text attribute supplies the title, notifyAs routes to releases.
	if feeds[1].Title != "Beta Changelog" || feeds[1].NotifyAs != model.KindRelease {
		t.Errorf("second feed = %+v", feeds[1])
	}

	// type matching is case-insensitive.
	if feeds[2].Title != "Gamma Lab" || feeds[2].Category != "Research" {
		t.Errorf("third feed = %+v", feeds[2])
	}
}

func TestParseOPMLMissingFile(t *testing.T) {
	if _, err := ParseOPML(filepath.Join(t.TempDir(), "nope.opml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPostSourceID(t *testing.T) {
	a := postSourceID("Acme Engineering!", "https://acme.example/post-1")
	b := postSourceID("Acme Engineering!", "https://acme.example/post-1")
	c := postSourceID("Acme Engineering!", "https://acme.example/post-2")

	if a != b {
		t.Errorf("source id not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different entries must yield different ids")
	}
	if want := "blog:acme-engineering:"; len(a) != len(want)+12 || a[:len(want)] != want {
		t.Errorf("unexpected id shape: %q", a)
	}
}
