// Package pipeline runs one page through every stage: fetch, extract,
// materialize images, sanitize, archive, back up and transmit.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"pagebundle/internal/archive"
	"pagebundle/internal/bundle"
	"pagebundle/internal/components/assert"
	"pagebundle/internal/components/chrono"
	"pagebundle/internal/components/telemetry"
	"pagebundle/internal/extract"
	"pagebundle/internal/fetcher"
	"pagebundle/internal/images"
	"pagebundle/internal/sanitize"
	"pagebundle/internal/transmit"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_pipeline_fetch    = "pipeline.fetch"
	report_pipeline_parse    = "pipeline.parse"
	report_pipeline_content  = "pipeline.content"
	report_pipeline_backup   = "pipeline.backup"
	report_pipeline_transmit = "pipeline.transmit"
	report_pipeline_report   = "pipeline.report"
)

var tracer = otel.Tracer("pagebundle/pipeline")

// Result is what a run produced, it is returned even when the run failed
// part way so the caller can see how far it got.
type Result struct {
	Bundle bundle.Bundle
	Images []images.Outcome
	// Transmit is nil when nothing was sent.
	Transmit *transmit.Result
	// Folder is the image folder of the run.
	Folder string
	// Backup is the path of the json backup, empty when none was written.
	Backup string
	// Report is the path of the html page, empty when none was written.
	Report   string
	Started  time.Time
	Duration time.Duration
}

type Pipeline struct {
	config       Config
	page         *url.URL
	fetcher      *fetcher.Fetcher
	materializer *images.Materializer
	archiver     archive.Archiver
	transmitter  *transmit.Transmitter
	clock        chrono.API
	tel          telemetry.API
}

func New(config Config, clock chrono.API, tel telemetry.API) (*Pipeline, error) {
	assert.NotNil(clock)
	assert.NotNil(tel)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	page, err := url.Parse(config.TargetURL)
	if err != nil {
		return nil, err
	}

	f, err := fetcher.New(fetcher.Options{
		Headers:          config.Headers,
		Cookies:          config.Cookies,
		Proxy:            config.Proxy,
		Timeout:          config.FetchTimeout(),
		CloudflareBypass: config.CloudflareBypass,
		MaxBodyBytes:     config.MaxBodyBytes,
		DumpDir:          config.DumpHTTPDir,
	}, tel)
	if err != nil {
		return nil, err
	}
	t, err := transmit.New(transmit.Options{
		Delivery: config.Delivery,
		Mode:     config.Mode,
		Headers:  map[string]string{"User-Agent": userAgent(config.Headers)},
		Timeout:  config.TransmitTimeout(),
		DumpDir:  config.DumpHTTPDir,
	}, tel)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		config:       config,
		page:         page,
		fetcher:      f,
		materializer: images.NewMaterializer(f, images.Options{Workers: config.ImageWorkers}, clock, tel),
		archiver:     archive.NewArchiver(tel),
		transmitter:  t,
		clock:        clock,
		tel:          telemetry.NewScopedAPI("pipeline", tel),
	}, nil
}

func userAgent(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "User-Agent") {
			return v
		}
	}
	return fetcher.DefaultUserAgent
}

// Run executes the whole pipeline under the configured run timeout.
//
// A failed page fetch stops the run right away. Failed images are recorded
// in Result.Images and never stop the run. An archive failure still writes
// the backup but skips transmission. The backup is best effort.
func (p *Pipeline) Run(ctx context.Context) (result Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.RunTimeout())
	defer cancel()
	ctx, span := tracer.Start(ctx, "pipeline:Run", trace.WithAttributes(
		attribute.String("pipeline.target", p.config.TargetURL),
		attribute.String("pipeline.mode", string(p.config.Mode)),
		attribute.String("pipeline.delivery", string(p.config.Delivery)),
		attribute.String("pipeline.scope", string(p.config.Scope)),
	))
	defer span.End()

	result.Started = p.clock.Now()
	defer func() {
		result.Duration = p.clock.Now().Sub(result.Started)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run failed")
		}
	}()

	doc, meta, err := p.load(ctx)
	if err != nil {
		return result, err
	}

	result.Folder = filepath.Join(p.config.OutputDir, images.FolderName(p.page))
	// a folder failure is reported by the materializer, the archive step
	// below then fails on the missing folder
	result.Images, _ = p.materializer.Materialize(ctx, doc, p.page, result.Folder)

	result.Bundle = bundle.Bundle{
		PageTitle:       meta.Title,
		MetaTitle:       meta.MetaTitle,
		MetaDescription: meta.MetaDescription,
		Permalink:       p.config.TargetURL,
		Content:         p.content(doc),
		Meta:            meta.Meta,
	}

	var archiveErr error
	switch p.config.Mode {
	case transmit.ModeZip:
		result.Bundle.ArchivePath, archiveErr = p.archiver.Zip(ctx, result.Folder)
	case transmit.ModeInline:
		result.Bundle.Images = downloaded(result.Images)
	}

	result.Backup = p.backup(result.Bundle)
	result.Report = p.report(result.Bundle, downloaded(result.Images))

	if archiveErr != nil {
		return result, archiveErr
	}
	if p.config.WebhookURL == "" {
		p.tel.ReportWarning(report_pipeline_transmit, errors.New("no webhook configured, bundle not sent"))
		return result, nil
	}

	sent, err := p.transmitter.Send(ctx, p.config.WebhookURL, result.Bundle)
	if err != nil {
		return result, err
	}
	result.Transmit = &sent
	return result, nil
}

// Inspect fetches the page and returns its bundle without touching the
// filesystem or the webhook. Images are not downloaded.
func (p *Pipeline) Inspect(ctx context.Context) (bundle.Bundle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.RunTimeout())
	defer cancel()
	ctx, span := tracer.Start(ctx, "pipeline:Inspect")
	defer span.End()

	doc, meta, err := p.load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inspect failed")
		return bundle.Bundle{}, err
	}
	return bundle.Bundle{
		PageTitle:       meta.Title,
		MetaTitle:       meta.MetaTitle,
		MetaDescription: meta.MetaDescription,
		Permalink:       p.config.TargetURL,
		Content:         p.content(doc),
		Meta:            meta.Meta,
	}, nil
}

func (p *Pipeline) load(ctx context.Context) (*goquery.Document, extract.Result, error) {
	body, err := p.fetcher.Fetch(ctx, p.config.TargetURL)
	if err != nil {
		p.tel.ReportBroken(report_pipeline_fetch, err, p.config.TargetURL)
		return nil, extract.Result{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		p.tel.ReportBroken(report_pipeline_parse, err, p.config.TargetURL)
		return nil, extract.Result{}, fmt.Errorf("parse page: %w", err)
	}
	return doc, extract.Extract(doc), nil
}

// content renders the configured scope, falling back to the plain html
// fragment when the scope's renderer fails.
func (p *Pipeline) content(doc *goquery.Document) string {
	out, err := sanitize.Content(doc, p.page, p.config.Scope)
	if err != nil {
		p.tel.ReportWarning(report_pipeline_content, err, string(p.config.Scope))
		return sanitize.Fragment(doc)
	}
	return out
}

func (p *Pipeline) backup(b bundle.Bundle) string {
	if p.config.BackupFile == "" {
		return ""
	}
	path := filepath.Join(p.config.OutputDir, p.config.BackupFile)
	if err := b.WriteBackup(path); err != nil {
		p.tel.ReportWarning(report_pipeline_backup, err, path)
		return ""
	}
	return path
}

func (p *Pipeline) report(b bundle.Bundle, images []string) string {
	if p.config.ReportFile == "" {
		return ""
	}
	path := filepath.Join(p.config.OutputDir, p.config.ReportFile)
	isMarkup := p.config.Scope == sanitize.ScopeHTML || p.config.Scope == sanitize.ScopeArticle || p.config.Scope == ""
	if err := b.WriteReport(path, images, isMarkup); err != nil {
		p.tel.ReportWarning(report_pipeline_report, err, path)
		return ""
	}
	return path
}

// downloaded lists the distinct files the outcomes produced, in document
// order.
func downloaded(outcomes []images.Outcome) []string {
	var out []string
	seen := map[string]bool{}
	for _, o := range outcomes {
		if !o.Ok() || seen[o.Path] {
			continue
		}
		seen[o.Path] = true
		out = append(out, o.Path)
	}
	return out
}
