// Package fetcher retrieves pages and images over HTTP with a fixed header
// set. Every call is a single attempt, there are no retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pagebundle/internal/components/assert"
	"pagebundle/internal/components/telemetry"
	"pagebundle/pkg/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const (
	report_fetcher_fetch = "fetcher.fetch"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// FetchError is returned for a non-2xx response or a transport failure.
// StatusCode is 0 when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Headers are sent with every request, a User-Agent is expected to be
	// among them.
	Headers map[string]string
	Cookies map[string]string
	// Proxy is a proxy url like http://host:port, empty means no proxy.
	Proxy   string
	Timeout time.Duration
	// CloudflareBypass swaps in a transport with browser-like TLS settings.
	CloudflareBypass bool
	// MaxBodyBytes limits the size of a single response, 0 means no limit.
	MaxBodyBytes int64
	// DumpDir, when set, receives a text dump of every exchange.
	DumpDir string
}

type Fetcher struct {
	http         *resty.Client
	maxBodyBytes int64
	tel          telemetry.API
}

func New(opts Options, tel telemetry.API) (*Fetcher, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("fetcher", tel)

	client := resty.New()
	client.SetHeaders(opts.Headers)
	for name, value := range opts.Cookies {
		client.SetCookie(&http.Cookie{Name: name, Value: value})
	}
	if opts.Proxy != "" {
		if _, err := url.Parse(opts.Proxy); err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		client.SetProxy(opts.Proxy)
	}
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	telemetry.InstrumentResty(client, tel)
	if opts.DumpDir != "" {
		dump, err := restyutil.NewDump(opts.DumpDir, "fetch")
		if err != nil {
			return nil, err
		}
		dump.Instrument(client)
	}

	return &Fetcher{
		http:         client,
		maxBodyBytes: opts.MaxBodyBytes,
		tel:          tel,
	}, nil
}

// Open issues a GET for link and returns the response body once a 2xx
// status has been confirmed. The caller must close it.
func (f *Fetcher) Open(ctx context.Context, link string) (io.ReadCloser, error) {
	res, err := f.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(link)
	if err != nil {
		if res != nil && res.RawBody() != nil {
			res.RawBody().Close()
		}
		return nil, &FetchError{URL: link, Err: err}
	}

	body := res.RawBody()
	if !res.IsSuccess() {
		if body != nil {
			body.Close()
		}
		return nil, &FetchError{URL: link, StatusCode: res.StatusCode()}
	}
	if body == nil {
		return http.NoBody, nil
	}
	if f.maxBodyBytes > 0 {
		return &limitedBody{rc: body, remaining: f.maxBodyBytes}, nil
	}
	return body, nil
}

// Fetch returns the whole body of link.
func (f *Fetcher) Fetch(ctx context.Context, link string) ([]byte, error) {
	body, err := f.Open(ctx, link)
	if err != nil {
		f.tel.ReportWarning(report_fetcher_fetch, err, link)
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		err = &FetchError{URL: link, Err: fmt.Errorf("read body: %w", err)}
		f.tel.ReportWarning(report_fetcher_fetch, err, link)
		return nil, err
	}
	return data, nil
}

// limitedBody fails with ErrBodyTooLarge instead of silently truncating.
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrBodyTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrBodyTooLarge
	}
	return n, err
}

func (l *limitedBody) Close() error {
	return l.rc.Close()
}
