package sanitize

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func parse(t testing.TB, markup string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

var fragmentTable = []struct {
	name     string
	body     string
	expected string
}{
	{
		name:     "unwraps formatting",
		body:     `<div><p>Hello <b>world</b></p></div>`,
		expected: `<p>Hello world</p>`,
	},
	{
		name:     "drops script and style",
		body:     `<p>a</p><script>alert("x")</script><style>p { color: red }</style>`,
		expected: `<p>a</p>`,
	},
	{
		name:     "strips attributes",
		body:     `<p class="lead" id="intro"><a href="/next" target="_blank">next</a></p>`,
		expected: `<p><a>next</a></p>`,
	},
	{
		name:     "drops comments",
		body:     `<p>a<!-- hidden --></p>`,
		expected: `<p>a</p>`,
	},
	{
		name:     "keeps lists",
		body:     `<ul class="nav"><li><span>One</span></li><li>Two</li></ul><ol><li>Three</li></ol>`,
		expected: `<ul><li>One</li><li>Two</li></ul><ol><li>Three</li></ol>`,
	},
	{
		name:     "collapses whitespace",
		body:     "\n  <p>  a \n\n\t b </p>\n\n",
		expected: `<p> a b </p>`,
	},
	{
		name:     "removes images",
		body:     `<p><img src="/a.png" alt="a">text</p>`,
		expected: `<p>text</p>`,
	},
	{
		name:     "keeps entities escaped",
		body:     `<p>a &amp; b &lt;c&gt;</p>`,
		expected: `<p>a &amp; b &lt;c&gt;</p>`,
	},
	{
		name:     "flattens tables",
		body:     `<table><tr><td>cell</td><td><p>para</p></td></tr></table>`,
		expected: `cell<p>para</p>`,
	},
	{
		name:     "keeps heading text",
		body:     `<h1>Product X</h1><div><p>Hello <b>world</b></p></div>`,
		expected: `Product X<p>Hello world</p>`,
	},
	{
		name:     "paragraph inside button",
		body:     `<p>a<button><p>b</p></button></p>`,
		expected: `<p>ab</p>`,
	},
	{
		name:     "table inside paragraph",
		body:     `<p>intro<table><tr><td><p>cell</p></td></tr></table></p>`,
		expected: `<p>introcell</p>`,
	},
	{
		name:     "list inside paragraph",
		body:     `<p>x<table><tr><td><ul><li>y</li></ul></td></tr></table></p>`,
		expected: `<p>xy</p>`,
	},
	{
		name:     "list item inside button",
		body:     `<ul><li>a<button><li>b</li></button></li></ul>`,
		expected: `<ul><li>ab</li></ul>`,
	},
	{
		name:     "empty body",
		body:     ``,
		expected: ``,
	},
}

func TestFragment(t *testing.T) {
	for _, test := range fragmentTable {
		t.Run(test.name, func(t *testing.T) {
			doc := parse(t, "<html><head><title>t</title></head><body>"+test.body+"</body></html>")
			require.Equal(t, test.expected, Fragment(doc))
		})
	}
}

func TestFragmentIsIdempotent(t *testing.T) {
	for _, test := range fragmentTable {
		t.Run(test.name, func(t *testing.T) {
			once := Fragment(parse(t, "<body>"+test.body+"</body>"))
			twice, err := String(once)
			require.NoError(t, err)
			require.Equal(t, once, twice)
		})
	}
}

func TestFragmentDoesNotModifyDocument(t *testing.T) {
	doc := parse(t, `<body><div class="x"><p id="p">Hello <b>world</b></p><script>1</script></div></body>`)
	before, err := doc.Html()
	require.NoError(t, err)

	Fragment(doc)

	after, err := doc.Html()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestString(t *testing.T) {
	out, err := String(`<section><p style="x">a <em>b</em></p><script>c</script></section>`)
	require.NoError(t, err)
	require.Equal(t, `<p>a b</p>`, out)
}

func TestRenderUnwrapsNestedAnchors(t *testing.T) {
	root := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	outer := &html.Node{Type: html.ElementNode, Data: "a", DataAtom: atom.A}
	inner := &html.Node{Type: html.ElementNode, Data: "a", DataAtom: atom.A}
	inner.AppendChild(&html.Node{Type: html.TextNode, Data: "y"})
	outer.AppendChild(&html.Node{Type: html.TextNode, Data: "x"})
	outer.AppendChild(inner)
	root.AppendChild(outer)

	out := render(root)
	require.Equal(t, `<a>xy</a>`, out)

	again, err := String(out)
	require.NoError(t, err)
	require.Equal(t, out, again)
}

func TestText(t *testing.T) {
	doc := parse(t, `<body>
		<h1>Title</h1>
		<p>Hello <b>world</b></p>
		<ul><li>One</li></ul>
		<a href="#">  more  </a>
		<p>   </p>
	</body>`)
	require.Equal(t, "Hello world\nOne\nOne\nmore", Text(doc))
}

func TestTranscript(t *testing.T) {
	doc := parse(t, `<html><head><title>Shop</title></head><body>
		<h1> Oak   table </h1>
		<p>Hello <b>world</b></p>
		<img src="/a.png"><img alt="no source"><img src="https://cdn.example.com/b.jpg">
	</body></html>`)
	require.Equal(t, "Title: Oak table\n\nContent:\nHello world\n\nMedia:\n/a.png\nhttps://cdn.example.com/b.jpg", Transcript(doc))

	doc = parse(t, `<html><head><title>Shop</title></head><body><p>a</p></body></html>`)
	require.Equal(t, "Title: Shop\n\nContent:\na\n\nMedia:", Transcript(doc))

	doc = parse(t, `<body></body>`)
	require.Equal(t, "Title: (untitled)\n\nContent:\n\n\nMedia:", Transcript(doc))
}

func TestMarkdown(t *testing.T) {
	doc := parse(t, `<body><div><p>Hello <b>world</b></p><ul><li>One</li><li>Two</li></ul></div></body>`)
	out, err := Markdown(doc)
	require.NoError(t, err)
	require.Contains(t, out, "Hello world")
	require.Contains(t, out, "- One")
	require.Contains(t, out, "- Two")
	require.NotContains(t, out, "<")
}

func TestArticle(t *testing.T) {
	paragraph := strings.Repeat("The oak table is finished by hand and sealed with natural oil, ", 6)
	doc := parse(t, `<html><head><title>Oak table</title></head><body>
		<nav class="menu"><a href="/">Home</a><a href="/shop">Shop</a></nav>
		<article class="post">
			<h1>Oak table</h1>
			<p class="lead">`+paragraph+`</p>
			<p>`+paragraph+`</p>
			<p>`+paragraph+`</p>
		</article>
		<footer>Copyright</footer>
	</body></html>`)
	page, err := url.Parse("https://shop.example.com/oak-table")
	require.NoError(t, err)

	out, err := Article(doc, page)
	require.NoError(t, err)
	require.Contains(t, out, "The oak table is finished by hand")
	require.Contains(t, out, "<p>")
	require.NotContains(t, out, "class=")
	require.NotContains(t, out, "<div")
}

func TestContent(t *testing.T) {
	doc := parse(t, `<body><div><p>Hello <b>world</b></p></div></body>`)
	page, _ := url.Parse("https://example.com/")

	out, err := Content(doc, page, ScopeHTML)
	require.NoError(t, err)
	require.Equal(t, "<p>Hello world</p>", out)

	out, err = Content(doc, page, ScopeText)
	require.NoError(t, err)
	require.Equal(t, "Title: (untitled)\n\nContent:\nHello world\n\nMedia:", out)

	_, err = Content(doc, page, Scope("pdf"))
	require.Error(t, err)
	require.False(t, Scope("pdf").Valid())
	require.True(t, ScopeMarkdown.Valid())
}
