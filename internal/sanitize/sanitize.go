// Package sanitize reduces page markup to a small attribute-free subset of
// html (p, a, ul, ol, li) and offers a few alternative renderings of it.
package sanitize

import (
	"fmt"
	"net/url"
	"strings"

	"pagebundle/pkg/htmlutil"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type Scope string

const (
	ScopeHTML     Scope = "html"
	ScopeText     Scope = "text"
	ScopeMarkdown Scope = "markdown"
	ScopeArticle  Scope = "article"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeHTML, ScopeText, ScopeMarkdown, ScopeArticle:
		return true
	}
	return false
}

var allowed = map[atom.Atom]bool{
	atom.P:  true,
	atom.A:  true,
	atom.Ul: true,
	atom.Ol: true,
	atom.Li: true,
}

var dropped = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
}

var converter = md.NewConverter("", true, nil)

// Fragment returns the sanitized body of doc. doc is not modified.
func Fragment(doc *goquery.Document) string {
	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	// Clone is deep, so the cleanup below never reaches doc
	clone := root.Clone()
	if clone.Length() == 0 {
		return ""
	}
	return render(clone.Nodes[0])
}

// String sanitizes a piece of markup as if it were the content of a <body>.
// Sanitizing the output of Fragment or String again yields the same string.
func String(markup string) (string, error) {
	body := &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return "", fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return render(body), nil
}

// Text joins the text of every p, a, ul, ol and li element of the page, one
// element per line. Nested matches repeat their text, as each element is
// listed on its own.
func Text(doc *goquery.Document) string {
	var lines []string
	for _, node := range doc.Find("p, a, ul, ol, li").Nodes {
		line := htmlutil.CollapseWhitespace(htmlutil.GetText(node))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Transcript lays the page out as plain text: the page heading, the text
// of Text and the source of every image, one per line.
func Transcript(doc *goquery.Document) string {
	title := htmlutil.CollapseWhitespace(doc.Find("h1").First().Text())
	if title == "" {
		title = htmlutil.CollapseWhitespace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = "(untitled)"
	}
	var media []string
	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		media = append(media, img.AttrOr("src", ""))
	})

	var b strings.Builder
	b.WriteString("Title: " + title + "\n\n")
	b.WriteString("Content:\n" + Text(doc) + "\n\n")
	b.WriteString("Media:")
	for _, src := range media {
		b.WriteString("\n" + src)
	}
	return b.String()
}

// Markdown renders the sanitized body of doc as markdown.
func Markdown(doc *goquery.Document) (string, error) {
	out, err := converter.ConvertString(Fragment(doc))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Article isolates the main article of the page with readability and
// sanitizes it like Fragment.
func Article(doc *goquery.Document, pageURL *url.URL) (string, error) {
	markup, err := doc.Html()
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(strings.NewReader(markup), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return String(article.Content)
}

// Content produces the content of the page for the given scope.
func Content(doc *goquery.Document, pageURL *url.URL, scope Scope) (string, error) {
	switch scope {
	case ScopeHTML, "":
		return Fragment(doc), nil
	case ScopeText:
		return Transcript(doc), nil
	case ScopeMarkdown:
		return Markdown(doc)
	case ScopeArticle:
		return Article(doc, pageURL)
	default:
		return "", fmt.Errorf("unknown content scope %q", scope)
	}
}

func render(root *html.Node) string {
	clean(root, ancestry{})
	out, err := htmlutil.RenderChildren(root)
	if err != nil {
		// rendering into a bytes.Buffer only fails on malformed trees,
		// which the parser never produces
		return ""
	}
	return htmlutil.CollapseWhitespace(out)
}

// ancestry tracks the allowed elements kept above a node. An element that the
// html parser would not nest under them is unwrapped, so rendered output
// parses back into the same tree.
type ancestry struct {
	inP  bool
	inA  bool
	inLi bool
}

func (a ancestry) admits(node *html.Node) bool {
	switch node.DataAtom {
	case atom.P, atom.Ul, atom.Ol:
		return !a.inP
	case atom.Li:
		return !a.inP && !a.inLi
	case atom.A:
		return !a.inA
	}
	return true
}

func (a ancestry) enter(node *html.Node) ancestry {
	switch node.DataAtom {
	case atom.P:
		a.inP = true
	case atom.A:
		a.inA = true
	case atom.Ul, atom.Ol:
		a.inLi = false
	case atom.Li:
		a.inLi = true
	}
	return a
}

// clean rewrites the subtree under node in place: script and style are
// dropped with their contents, comments are dropped, allowed elements lose
// all attributes and every other element is replaced by its children.
func clean(node *html.Node, above ancestry) {
	for c := node.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode, html.DoctypeNode:
			node.RemoveChild(c)
		case html.ElementNode:
			if dropped[c.DataAtom] {
				node.RemoveChild(c)
				break
			}
			keep := allowed[c.DataAtom] && c.Namespace == "" && above.admits(c)
			if !keep {
				clean(c, above)
				unwrap(c)
				break
			}
			clean(c, above.enter(c))
			c.Attr = nil
		}
		c = next
	}
}

func unwrap(node *html.Node) {
	parent := node.Parent
	for child := node.FirstChild; child != nil; {
		next := child.NextSibling
		node.RemoveChild(child)
		parent.InsertBefore(child, node)
		child = next
	}
	parent.RemoveChild(node)
}
