// Package model holds the shared pipeline types: items as fetched from
// sources, classification verdicts, and persisted records.
package model

import "time"

// Kind identifies a record kind and therefore which store, routing policy
// and digest a record belongs to.
type Kind string

const (
	KindRelease Kind = "release"
	KindPost    Kind = "post"
)

// Importance is the classifier's importance level for a record.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// Rank orders importance for digest sorting: HIGH < MEDIUM < LOW.
func (i Importance) Rank() int {
	switch i {
	case ImportanceHigh:
		return 0
	case ImportanceMedium:
		return 1
	default:
		return 2
	}
}

// ParseImportance maps a raw classifier string to an Importance,
// defaulting to medium for anything unrecognized.
func ParseImportance(s string) Importance {
	switch Importance(s) {
	case ImportanceHigh, ImportanceMedium, ImportanceLow:
		return Importance(s)
	default:
		return ImportanceMedium
	}
}

// Item is a normalized pre-classification content unit produced by a
// source adapter. Content is transient context for the classifier and is
// never persisted.
type Item struct {
	SourceID       string
	Origin         string // vendor, blog or site name
	OriginCategory string // product display name or feed category
	Title          string
	Version        string
	URL            string
	Summary        string
	Published      *time.Time
	Content        string
	NotifyAs       Kind // which pipeline the item routes through
}

// Verdict is the classifier's output for one item.
type Verdict struct {
	Relevant          bool
	Importance        Importance
	Category          string
	TitleTranslated   string
	SummaryTranslated string
}

// FallbackVerdict is applied when classification fails: the item stays in
// the pipeline as relevant/medium with untranslated text.
func FallbackVerdict(it Item) Verdict {
	return Verdict{
		Relevant:          true,
		Importance:        ImportanceMedium,
		TitleTranslated:   it.Title,
		SummaryTranslated: it.Summary,
	}
}

// Record is a persisted item plus its verdict and lifecycle timestamps.
type Record struct {
	Item
	Verdict
	FetchedAt        time.Time
	NotifiedAt       *time.Time
	DigestIncludedAt *time.Time
}

// DisplayTitle prefers the translated title when present.
func (r Record) DisplayTitle() string {
	if r.TitleTranslated != "" {
		return r.TitleTranslated
	}
	return r.Title
}

// DisplaySummary prefers the translated summary when present.
func (r Record) DisplaySummary() string {
	if r.SummaryTranslated != "" {
		return r.SummaryTranslated
	}
	return r.Summary
}
