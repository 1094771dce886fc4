// Package fetch turns external sources into normalized model.Items:
// vendor release feeds, OPML-listed RSS/Atom blogs, and sitemap-backed
// pages for sites without feeds.
package fetch

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// browserUA avoids 403s from sites that block default Go user agents.
const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const (
	summaryCap = 500
	// Classifier context caps; release notes are shorter than articles.
	releaseContentCap = 2000
	postContentCap    = 3000
)

var (
	slugRe = regexp.MustCompile(`[^a-z0-9]+`)
	tagRe  = regexp.MustCompile(`<[^>]+>`)
)

func slugify(s string) string {
	out := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

// postSourceID builds the stable blog/sitemap dedup key:
// blog:{origin-slug}:{md5(key)[:12]}.
func postSourceID(origin, key string) string {
	sum := md5.Sum([]byte(key))
	return "blog:" + slugify(origin) + ":" + hex.EncodeToString(sum[:])[:12]
}

func stripHTML(s string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// parseISOTime accepts the timestamp shapes seen in the wild: RFC3339,
// zone-less ISO (assumed UTC), and bare dates.
func parseISOTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			if t.Location() == time.Local {
				t = t.UTC()
			}
			return &t
		}
	}
	return nil
}

// scalarString renders a resolved graph scalar. JSON numbers decode as
// float64; integral values must not pick up a trailing ".0".
func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func subMap(m map[string]any, key string) map[string]any {
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	return nil
}
