// Package images downloads the images a page references into a local
// folder and points the page's <img> tags at the downloaded copies.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"pagebundle/internal/components/assert"
	"pagebundle/internal/components/chrono"
	"pagebundle/internal/components/telemetry"
	"pagebundle/internal/fetcher"
	"pagebundle/pkg/htmlutil"
	"pagebundle/pkg/osutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const (
	report_materializer_prepare_folder = "materializer.prepare-folder"
	report_materializer_download       = "materializer.download"
	report_materializer_materialized   = "materializer.materialized"
	report_materializer_failed         = "materializer.failed"
)

const DefaultWorkers = 4

var tracer = otel.Tracer("pagebundle/images")
var meter = otel.Meter("pagebundle/images")

var (
	materializedCounter metric.Int64Counter
	failedCounter       metric.Int64Counter
)

func init() {
	materializedCounter = int64Counter(meter, "images.materialized")
	failedCounter = int64Counter(meter, "images.failed")
}

// int64Counter falls back to a no-op counter when the meter rejects the
// instrument, the error goes to the otel error handler.
func int64Counter(m metric.Meter, name string) metric.Int64Counter {
	counter, err := m.Int64Counter(name)
	if err != nil {
		otel.Handle(fmt.Errorf("create counter %s: %w", name, err))
		return noop.Int64Counter{}
	}
	return counter
}

// Ref is an image reference found in the document.
type Ref struct {
	// Index is the position of the tag among all <img> tags that have a
	// source, in document order.
	Index int
	// Src is the source attribute as written in the page.
	Src string
	// URL is Src resolved against the page url.
	URL string
	// Filename is the name the image is stored under, empty if the source
	// could not be resolved.
	Filename string
}

// Outcome is the result of materializing a single Ref. Path is set when the
// image was written to disk, Err otherwise.
type Outcome struct {
	Ref  Ref
	Path string
	Err  error
}

func (o Outcome) Ok() bool {
	return o.Err == nil
}

// Fetcher is the part of fetcher.Fetcher the materializer needs.
type Fetcher interface {
	Open(ctx context.Context, link string) (io.ReadCloser, error)
}

type Options struct {
	// Workers bounds the number of concurrent downloads.
	Workers int
}

type Materializer struct {
	fetcher Fetcher
	workers int
	clock   chrono.API
	tel     telemetry.API
	newName func() string
}

func NewMaterializer(f Fetcher, opts Options, clock chrono.API, tel telemetry.API) *Materializer {
	assert.NotNil(f)
	assert.NotNil(clock)
	assert.NotNil(tel)

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Materializer{
		fetcher: f,
		workers: workers,
		clock:   clock,
		tel:     telemetry.NewScopedAPI("images", tel),
		newName: uuid.NewString,
	}
}

// FolderName derives the image folder name from the page url:
// the path with slashes turned into underscores, or the host when the path
// is empty, suffixed with `_images`.
func FolderName(page *url.URL) string {
	p := strings.Trim(page.Path, "/")
	if p == "" {
		return page.Host + "_images"
	}
	return strings.ReplaceAll(p, "/", "_") + "_images"
}

// FileName returns the last path segment of u when it looks like a file
// name (it has an extension), otherwise "".
func FileName(u *url.URL) string {
	name := u.Path[strings.LastIndex(u.Path, "/")+1:]
	if name == "." || name == ".." || !strings.Contains(name, ".") {
		return ""
	}
	return name
}

type occurrence struct {
	node *html.Node
	ref  Ref
	job  int
	err  error
}

type download struct {
	url  string
	path string
	err  error
}

// Materialize downloads every <img> of doc into folder and rewrites the
// src of each successfully downloaded image to its local path.
//
// A failed image never fails the call: its tag is left untouched and its
// Outcome carries the error. The returned error is only set when the
// folder itself cannot be prepared.
func (m *Materializer) Materialize(ctx context.Context, doc *goquery.Document, base *url.URL, folder string) ([]Outcome, error) {
	ctx, span := tracer.Start(ctx, "materializer:Materialize")
	defer span.End()

	moved, err := osutil.PrepareDir(folder, m.clock.Now())
	if err != nil {
		m.tel.ReportBroken(report_materializer_prepare_folder, err, folder)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to prepare image folder")
		return nil, err
	}
	if moved != "" {
		m.tel.ReportWarning(
			report_materializer_prepare_folder,
			errors.New("folder already had files, moved aside"),
			folder,
			moved,
		)
	}

	occurrences, downloads := m.plan(doc, base, folder)
	span.SetAttributes(
		attribute.Int("images.refs", len(occurrences)),
		attribute.Int("images.downloads", len(downloads)),
	)

	g := errgroup.Group{}
	g.SetLimit(m.workers)
	for i := range downloads {
		d := &downloads[i]
		g.Go(func() error {
			d.err = m.download(ctx, d.url, d.path)
			return nil
		})
	}
	g.Wait()

	// document mutation happens here, after every download finished, so
	// only this goroutine ever touches the tree
	outcomes := make([]Outcome, len(occurrences))
	var ok, failed int64
	for i, occ := range occurrences {
		outcome := Outcome{Ref: occ.ref, Err: occ.err}
		if outcome.Err == nil {
			d := downloads[occ.job]
			outcome.Err = d.err
			if d.err == nil {
				outcome.Path = d.path
				htmlutil.SetAttr(occ.node, "src", filepath.ToSlash(d.path))
			}
		}
		if outcome.Err != nil {
			failed++
			m.tel.ReportWarning(report_materializer_download, outcome.Err, occ.ref.URL)
		} else {
			ok++
		}
		outcomes[i] = outcome
	}

	materializedCounter.Add(ctx, ok)
	failedCounter.Add(ctx, failed, metric.WithAttributes(attribute.String("folder", folder)))
	m.tel.ReportCount(report_materializer_materialized, ok)
	m.tel.ReportCount(report_materializer_failed, failed)

	return outcomes, nil
}

// plan walks the document in order, resolving every image reference and
// assigning each distinct url a download and a unique file name.
func (m *Materializer) plan(doc *goquery.Document, base *url.URL, folder string) ([]occurrence, []download) {
	var occurrences []occurrence
	var downloads []download
	byURL := map[string]int{}
	usedNames := map[string]bool{}

	index := 0
	for _, node := range doc.Find("img").Nodes {
		src, ok := htmlutil.Attr(node, "src")
		src = strings.TrimSpace(src)
		if !ok || src == "" {
			continue
		}

		occ := occurrence{
			node: node,
			ref:  Ref{Index: index, Src: src},
		}
		index++

		parsed, err := url.Parse(src)
		if err != nil {
			occ.err = &fetcher.FetchError{URL: src, Err: fmt.Errorf("parse image url: %w", err)}
			occurrences = append(occurrences, occ)
			continue
		}
		resolved := base.ResolveReference(parsed)
		occ.ref.URL = resolved.String()

		job, seen := byURL[occ.ref.URL]
		if !seen {
			name := uniqueName(m.fileName(resolved), usedNames)
			job = len(downloads)
			byURL[occ.ref.URL] = job
			downloads = append(downloads, download{
				url:  occ.ref.URL,
				path: filepath.Join(folder, name),
			})
		}
		occ.job = job
		occ.ref.Filename = filepath.Base(downloads[job].path)
		occurrences = append(occurrences, occ)
	}

	return occurrences, downloads
}

func (m *Materializer) fileName(u *url.URL) string {
	name := FileName(u)
	if name == "" {
		name = m.newName() + ".jpg"
	}
	return name
}

// uniqueName suffixes name with -1, -2, ... until it is not in used.
// Comparison ignores case so case-insensitive filesystems do not collide.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; used[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func (m *Materializer) download(ctx context.Context, link, path string) error {
	if err := ctx.Err(); err != nil {
		return &fetcher.FetchError{URL: link, Err: err}
	}

	body, err := m.fetcher.Open(ctx, link)
	if err != nil {
		return err
	}
	defer body.Close()

	_, err = osutil.WriteFile(path, body)
	if err != nil {
		var writeErr *osutil.FileWriteError
		if errors.As(err, &writeErr) {
			return err
		}
		return &fetcher.FetchError{URL: link, Err: fmt.Errorf("read body: %w", err)}
	}
	return nil
}
