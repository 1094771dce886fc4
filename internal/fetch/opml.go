package fetch

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"aiwatch/internal/model"
)

// FeedSource is one subscribed feed from the OPML file, with the category
// taken from its parent outline.
type FeedSource struct {
	Title    string
	XMLURL   string
	HTMLURL  string
	Category string
	NotifyAs model.Kind
}

type opmlDoc struct {
	XMLName xml.Name `xml:"opml"`
	Body    opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	Type     string        `xml:"type,attr"`
	Title    string        `xml:"title,attr"`
	Text     string        `xml:"text,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	HTMLURL  string        `xml:"htmlUrl,attr"`
	NotifyAs string        `xml:"notifyAs,attr"`
	Children []opmlOutline `xml:"outline"`
}

// ParseOPML reads the blog subscription list. Top-level outlines are
// categories; their rss-typed children are feeds. A notifyAs="release"
// attribute routes a feed's articles through the release pipeline.
func ParseOPML(path string) ([]FeedSource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc opmlDoc
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("opml: %w", err)
	}

	var feeds []FeedSource
	for _, category := range doc.Body.Outlines {
		catName := category.Title
		if catName == "" {
			catName = category.Text
		}
		for _, o := range category.Children {
			if !strings.EqualFold(o.Type, "rss") || o.XMLURL == "" {
				continue
			}
			title := o.Title
			if title == "" {
				title = o.Text
			}
			notifyAs := model.KindPost
			if o.NotifyAs == "release" {
				notifyAs = model.KindRelease
			}
			feeds = append(feeds, FeedSource{
				Title:    title,
				XMLURL:   o.XMLURL,
				HTMLURL:  o.HTMLURL,
				Category: catName,
				NotifyAs: notifyAs,
			})
		}
	}
	return feeds, nil
}
