package notify

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"aiwatch/internal/model"
)

// Telegram push labels and digest bullet emoji per importance.
var (
	importanceLabel = map[model.Importance]string{
		model.ImportanceHigh:   "🔥 【重要】",
		model.ImportanceMedium: "✅ 【关注】",
		model.ImportanceLow:    "ℹ️ 【了解】",
	}
	importanceEmoji = map[model.Importance]string{
		model.ImportanceHigh:   "🔥",
		model.ImportanceMedium: "✅",
		model.ImportanceLow:    "ℹ️",
	}
)

const (
	releaseDigestHeading = "📋 <b>AI 每日动态</b>"
	postDigestHeading    = "📖 <b>AI 编程博客每日精选</b>"
)

func label(imp model.Importance) string {
	if l, ok := importanceLabel[imp]; ok {
		return l
	}
	return importanceLabel[model.ImportanceMedium]
}

func emoji(imp model.Importance) string {
	if e, ok := importanceEmoji[imp]; ok {
		return e
	}
	return importanceEmoji[model.ImportanceMedium]
}

// recordMeta is the italic second line: origin plus product/category and
// version where present.
func recordMeta(kind model.Kind, r model.Record) string {
	if kind == model.KindPost {
		return r.Origin
	}
	meta := r.Origin
	if r.OriginCategory != "" {
		meta += " · " + r.OriginCategory
	}
	if r.Version != "" {
		meta += " · " + r.Version
	}
	return meta
}

// renderRecordHTML formats a single push message in Telegram HTML.
func renderRecordHTML(kind model.Kind, r model.Record) string {
	e := html.EscapeString
	title := e(r.DisplayTitle())
	if kind == model.KindPost && r.Category != "" {
		title = "[" + e(r.Category) + "] " + title
	}
	lines := []string{
		label(r.Importance),
		"<b>" + title + "</b>",
		"<i>" + e(recordMeta(kind, r)) + "</i>",
		"",
		e(r.DisplaySummary()),
		"",
		fmt.Sprintf(`<a href="%s">查看原文</a>`, e(r.URL)),
	}
	return strings.Join(lines, "\n")
}

// groupByOrigin buckets records by origin and sorts each bucket
// importance-first. Origins come back in lexicographic order.
func groupByOrigin(records []model.Record) (origins []string, groups map[string][]model.Record) {
	groups = make(map[string][]model.Record)
	for _, r := range records {
		groups[r.Origin] = append(groups[r.Origin], r)
	}
	for origin, items := range groups {
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Importance.Rank() < items[j].Importance.Rank()
		})
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins, groups
}

// renderDigestHTML formats the daily digest in Telegram HTML, grouped by
// origin with a trailing item count.
func renderDigestHTML(kind model.Kind, records []model.Record) string {
	if len(records) == 0 {
		return ""
	}
	e := html.EscapeString

	heading := releaseDigestHeading
	unit := "条更新"
	if kind == model.KindPost {
		heading = postDigestHeading
		unit = "篇文章"
	}
	lines := []string{heading, ""}

	origins, groups := groupByOrigin(records)
	for _, origin := range origins {
		displayOrigin := origin
		if kind == model.KindRelease {
			displayOrigin = strings.ToUpper(origin)
		}
		lines = append(lines, "<b>"+e(displayOrigin)+"</b>")
		for _, r := range groups[origin] {
			lines = append(lines, fmt.Sprintf(`%s <a href="%s">%s</a>`,
				emoji(r.Importance), e(r.URL), e(r.DisplayTitle())))
		}
		lines = append(lines, "")
	}

	lines = append(lines, fmt.Sprintf("共 %d %s", len(records), unit))
	return strings.Join(lines, "\n")
}
