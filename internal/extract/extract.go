// Package extract reads the page title and <meta> tags out of a parsed
// document. Missing tags degrade to fallback markers, nothing here fails.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	TitleNotFound       = "Title not found"
	DescriptionNotFound = "Meta description not found"
	KeyMetaTitle        = "meta-title"
	KeyMetaDescription  = "meta-description"
)

// MetaRecord maps a meta tag's name (or property) to its trimmed content.
type MetaRecord map[string]string

type Result struct {
	Title           string
	MetaTitle       string
	MetaDescription string
	Meta            MetaRecord
}

// Extract resolves the title and meta fields of doc. The returned Meta
// contains every usable <meta> tag plus the synthetic meta-title and
// meta-description keys.
func Extract(doc *goquery.Document) Result {
	title := ResolveTitle(doc)
	metaTitle := MetaTitle(doc, title)
	metaDescription := MetaDescription(doc)

	meta := ExtractMeta(doc)
	meta[KeyMetaTitle] = metaTitle
	meta[KeyMetaDescription] = metaDescription

	return Result{
		Title:           title,
		MetaTitle:       metaTitle,
		MetaDescription: metaDescription,
		Meta:            meta,
	}
}

// ResolveTitle returns the first <h1> with visible text, then the <title>,
// then TitleNotFound.
func ResolveTitle(doc *goquery.Document) string {
	title := ""
	doc.Find("h1").EachWithBreak(func(_ int, h1 *goquery.Selection) bool {
		title = strings.TrimSpace(h1.Text())
		return title == ""
	})
	if title != "" {
		return title
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		return title
	}
	return TitleNotFound
}

// ExtractMeta collects every <meta> tag that has non-empty content and a
// name or property. When a tag has both, name is used as the key. Later
// tags overwrite earlier ones with the same key.
func ExtractMeta(doc *goquery.Document) MetaRecord {
	meta := MetaRecord{}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		key := strings.TrimSpace(s.AttrOr("name", ""))
		if key == "" {
			key = strings.TrimSpace(s.AttrOr("property", ""))
		}
		if key == "" {
			return
		}
		meta[key] = content
	})
	return meta
}

// MetaTitle resolves og:title, then name="title", then the page title.
func MetaTitle(doc *goquery.Document, pageTitle string) string {
	if v := metaContent(doc, `meta[property="og:title"]`); v != "" {
		return v
	}
	if v := metaContent(doc, `meta[name="title"]`); v != "" {
		return v
	}
	return pageTitle
}

// MetaDescription resolves name="description", then DescriptionNotFound.
func MetaDescription(doc *goquery.Document) string {
	if v := metaContent(doc, `meta[name="description"]`); v != "" {
		return v
	}
	return DescriptionNotFound
}

// metaContent returns the trimmed content of the first matching tag that
// has any.
func metaContent(doc *goquery.Document, selector string) string {
	out := ""
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = strings.TrimSpace(s.AttrOr("content", ""))
		return out == ""
	})
	return out
}
