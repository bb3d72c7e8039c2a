// Package transmit delivers a bundle to a webhook as a single streamed
// multipart/form-data POST.
package transmit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pagebundle/internal/bundle"
	"pagebundle/internal/components/assert"
	"pagebundle/internal/components/telemetry"
	"pagebundle/pkg/restyutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_transmitter_send = "transmitter.send"
)

var tracer = otel.Tracer("pagebundle/transmit")

// Delivery selects how the text fields of a bundle are laid out.
type Delivery string

const (
	// DeliveryFields sends every text field as its own part.
	DeliveryFields Delivery = "fields"
	// DeliveryJSON sends a single `data` part holding the bundle as json.
	DeliveryJSON Delivery = "json"
)

func (d Delivery) Valid() bool {
	return d == DeliveryFields || d == DeliveryJSON
}

// Mode selects how images are attached.
type Mode string

const (
	// ModeZip attaches the image archive as `zip_file`.
	ModeZip Mode = "zip"
	// ModeInline attaches every image as its own `images` part.
	ModeInline Mode = "inline"
)

func (m Mode) Valid() bool {
	return m == ModeZip || m == ModeInline
}

// maximum number of response body bytes kept on a result or error
const bodyPreview = 2048

// TransmitError is returned when the webhook answered with a status other
// than 200, 201 or 202, or could not be reached at all (StatusCode 0).
type TransmitError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transmit to %s: %s", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("transmit to %s: unexpected status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *TransmitError) Unwrap() error {
	return e.Err
}

type Result struct {
	StatusCode int
	Body       string
	// Sent is the number of bytes of request body written.
	Sent int64
}

type Options struct {
	Delivery Delivery
	Mode     Mode
	Headers  map[string]string
	Timeout  time.Duration
	// DumpDir, when set, receives a text dump of every exchange.
	DumpDir string
}

type Transmitter struct {
	http     *resty.Client
	delivery Delivery
	mode     Mode
	tel      telemetry.API
}

func New(opts Options, tel telemetry.API) (*Transmitter, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("transmit", tel)

	if opts.Delivery == "" {
		opts.Delivery = DeliveryFields
	}
	if opts.Mode == "" {
		opts.Mode = ModeZip
	}
	if !opts.Delivery.Valid() {
		return nil, fmt.Errorf("unknown delivery mode %q", opts.Delivery)
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("unknown output mode %q", opts.Mode)
	}

	client := resty.New()
	client.SetHeaders(opts.Headers)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	telemetry.InstrumentResty(client, tel)
	if opts.DumpDir != "" {
		dump, err := restyutil.NewDump(opts.DumpDir, "transmit")
		if err != nil {
			return nil, err
		}
		dump.Instrument(client)
	}

	return &Transmitter{
		http:     client,
		delivery: opts.Delivery,
		mode:     opts.Mode,
		tel:      tel,
	}, nil
}

type attachment struct {
	field       string
	file        *os.File
	contentType string
}

// Send posts b to endpoint once. Attached files are streamed from disk into
// the request body, they are opened before anything is sent so a missing
// file never results in a half-sent request.
func (t *Transmitter) Send(ctx context.Context, endpoint string, b bundle.Bundle) (Result, error) {
	assert.NotEmptyStr(endpoint)

	ctx, span := tracer.Start(ctx, "transmitter:Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("transmit.endpoint", endpoint),
		attribute.String("transmit.delivery", string(t.delivery)),
		attribute.String("transmit.mode", string(t.mode)),
	)

	fail := func(err *TransmitError) (Result, error) {
		t.tel.ReportBroken(report_transmitter_send, err, endpoint)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to transmit bundle")
		return Result{StatusCode: err.StatusCode, Body: err.Body}, err
	}

	attachments, err := t.open(b)
	defer func() {
		for _, a := range attachments {
			a.file.Close()
		}
	}()
	if err != nil {
		return fail(&TransmitError{Endpoint: endpoint, Err: err})
	}

	pr, pw := io.Pipe()
	body := &countingWriter{w: pw}
	mw := multipart.NewWriter(body)
	contentType := mw.FormDataContentType()

	writeDone := make(chan error, 1)
	go func() {
		err := t.writeBody(mw, b, attachments)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
		writeDone <- err
	}()

	res, err := t.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(pr).
		Post(endpoint)
	// unblocks the writer when the request ended before reading everything
	pr.Close()
	writeErr := <-writeDone

	if err != nil {
		if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
			err = writeErr
		}
		return fail(&TransmitError{Endpoint: endpoint, Err: err})
	}

	responseBody := preview(res.String())
	switch res.StatusCode() {
	case 200, 201, 202:
	default:
		return fail(&TransmitError{
			Endpoint:   endpoint,
			StatusCode: res.StatusCode(),
			Body:       responseBody,
		})
	}

	result := Result{
		StatusCode: res.StatusCode(),
		Body:       responseBody,
		Sent:       body.n,
	}
	span.SetAttributes(attribute.Int64("transmit.sent_bytes", result.Sent))
	t.tel.ReportDebug("bundle transmitted", endpoint, result.StatusCode, result.Sent)
	return result, nil
}

func (t *Transmitter) open(b bundle.Bundle) ([]attachment, error) {
	var paths []string
	field := "images"
	switch t.mode {
	case ModeZip:
		if b.ArchivePath == "" {
			return nil, errors.New("bundle has no archive")
		}
		paths = []string{b.ArchivePath}
		field = "zip_file"
	case ModeInline:
		paths = b.Images
	}

	var out []attachment
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return out, fmt.Errorf("open attachment: %w", err)
		}
		out = append(out, attachment{
			field:       field,
			file:        f,
			contentType: contentTypeOf(path, t.mode),
		})
	}
	return out, nil
}

func contentTypeOf(path string, mode Mode) string {
	if mode == ModeZip {
		return "application/zip"
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (t *Transmitter) writeBody(mw *multipart.Writer, b bundle.Bundle, attachments []attachment) error {
	switch t.delivery {
	case DeliveryFields:
		for _, f := range b.Fields() {
			if err := writeText(mw, f.Name, "text/plain; charset=utf-8", f.Value); err != nil {
				return err
			}
		}
	case DeliveryJSON:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode bundle: %w", err)
		}
		if err := writeText(mw, "data", "application/json", string(data)); err != nil {
			return err
		}
	}

	for _, a := range attachments {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(
			`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(a.field),
			quoteEscaper.Replace(filepath.Base(a.file.Name())),
		))
		header.Set("Content-Type", a.contentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, a.file); err != nil {
			return err
		}
	}
	return nil
}

func writeText(mw *multipart.Writer, name, contentType, value string) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(name)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.WriteString(part, value)
	return err
}

func preview(body string) string {
	if len(body) > bodyPreview {
		return body[:bodyPreview]
	}
	return body
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
