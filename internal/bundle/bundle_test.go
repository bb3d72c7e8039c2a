package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pagebundle/internal/extract"
	"pagebundle/pkg/osutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var sample = Bundle{
	PageTitle:       "Product X",
	MetaTitle:       "Product X | Shop",
	MetaDescription: "desc",
	Permalink:       "https://shop.example.com/product-x",
	Content:         "<p>Hello & world</p>",
	Meta: extract.MetaRecord{
		"description":      "desc",
		"meta-title":       "Product X | Shop",
		"meta-description": "desc",
	},
	ArchivePath: "/tmp/product-x_images.zip",
	Images:      []string{"/tmp/product-x_images/a.png"},
}

func TestWriteBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultBackupFile)
	require.NoError(t, sample.WriteBackup(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)

	require.Contains(t, text, "\n    \"page_title\": \"Product X\",")
	require.Contains(t, text, `"content": "<p>Hello & world</p>"`)
	require.NotContains(t, text, "images.zip")
	require.NotContains(t, text, "a.png")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(content, &decoded))
	keys := make([]string, 0, len(decoded))
	for k := range decoded {
		keys = append(keys, k)
	}
	require.ElementsMatch(t, []string{
		"page_title", "meta_title", "meta_description", "permalink", "content", "meta",
	}, keys)

	var roundtrip Bundle
	require.NoError(t, json.Unmarshal(content, &roundtrip))
	expected := sample
	expected.ArchivePath = ""
	expected.Images = nil
	if diff := cmp.Diff(expected, roundtrip); diff != "" {
		t.Fatal(diff)
	}
}

func TestWriteBackupFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", DefaultBackupFile)
	err := sample.WriteBackup(path)
	var writeErr *osutil.FileWriteError
	require.ErrorAs(t, err, &writeErr)
}

func TestFields(t *testing.T) {
	var names []string
	for _, f := range sample.Fields() {
		names = append(names, f.Name)
	}
	require.Equal(t, "page_title,meta_title,meta_description,permalink,content", strings.Join(names, ","))
	require.Equal(t, "desc", sample.Fields()[2].Value)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultReportFile)
	b := sample
	b.Content = "<p>Hello <a>world</a></p>"
	require.NoError(t, b.WriteReport(path, []string{filepath.Join(dir, "product-x_images", "a.png")}, true))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)

	require.Contains(t, text, "<title>Product X</title>")
	require.Contains(t, text, `<a href="https://shop.example.com/product-x">https://shop.example.com/product-x</a>`)
	require.Contains(t, text, "<div class=\"page-content\">\n<p>Hello <a>world</a></p>\n</div>")
	require.Contains(t, text, `<img src="product-x_images/a.png" alt="Product X">`)

	description := strings.Index(text, "<li><strong>description:</strong> desc</li>")
	metaTitle := strings.Index(text, "<li><strong>meta-title:</strong> Product X | Shop</li>")
	require.NotEqual(t, -1, description)
	require.NotEqual(t, -1, metaTitle)
	require.Less(t, description, metaTitle)
}

func TestWriteReportEscapesText(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultReportFile)
	b := sample
	b.Content = "Title: <Product X>\n\nContent:\na & b"
	require.NoError(t, b.WriteReport(path, nil, false))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "<pre>Title: &lt;Product X&gt;\n\nContent:\na &amp; b</pre>")
	require.NotContains(t, string(content), "<img")
}
