package bundle

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
	"sort"

	"pagebundle/pkg/osutil"
)

const DefaultReportFile = "final_page.html"

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.PageTitle}}</title>
<style>
body { font-family: Arial, sans-serif; margin: 20px; }
.meta-info { background: #f4f4f4; padding: 10px; margin-bottom: 20px; border-radius: 5px; }
.gallery ul { list-style: none; padding: 0; display: flex; flex-wrap: wrap; gap: 10px; }
.gallery img { max-width: 200px; height: auto; }
</style>
</head>
<body>
<div class="meta-info">
<h2>{{.PageTitle}}</h2>
<p><strong>Permalink:</strong> <a href="{{.Permalink}}">{{.Permalink}}</a></p>
<ul>
{{- range .Meta}}
<li><strong>{{.Name}}:</strong> {{.Value}}</li>
{{- end}}
</ul>
</div>
<div class="page-content">
{{if .Markup}}{{.Markup}}{{else}}<pre>{{.Text}}</pre>{{end}}
</div>
<div class="gallery">
<h2>Gallery</h2>
<ul>
{{- range .Gallery}}
<li><img src="{{.}}" alt="{{$.PageTitle}}"></li>
{{- end}}
</ul>
</div>
</body>
</html>
`))

type reportPage struct {
	PageTitle string
	Permalink string
	Meta      []Field
	Markup    template.HTML
	Text      string
	Gallery   []string
}

// WriteReport writes a standalone html page for the bundle to path: the
// titles and meta tags, the content and a gallery of the given local images.
// isMarkup tells whether Content is sanitized html, any other content is
// shown preformatted. Image paths are written relative to the page.
func (b Bundle) WriteReport(path string, images []string, isMarkup bool) error {
	page := reportPage{
		PageTitle: b.PageTitle,
		Permalink: b.Permalink,
	}
	for name, value := range b.Meta {
		page.Meta = append(page.Meta, Field{Name: name, Value: value})
	}
	sort.Slice(page.Meta, func(i, j int) bool { return page.Meta[i].Name < page.Meta[j].Name })
	if isMarkup {
		// content was reduced to p, a, ul, ol and li without attributes
		page.Markup = template.HTML(b.Content)
	} else {
		page.Text = b.Content
	}
	dir := filepath.Dir(path)
	for _, img := range images {
		if rel, err := filepath.Rel(dir, img); err == nil {
			img = rel
		}
		page.Gallery = append(page.Gallery, filepath.ToSlash(img))
	}

	var buffer bytes.Buffer
	if err := reportTemplate.Execute(&buffer, page); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err := osutil.WriteFile(path, &buffer)
	return err
}
