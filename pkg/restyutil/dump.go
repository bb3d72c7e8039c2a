package restyutil

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Dump writes every request/response exchange of a client to its own file
// in a directory, handy to see what a site or webhook actually answered.
type Dump struct {
	directory string
	prefix    string
	idcounter *uint64
}

// NewDump creates dir if needed. Files are named
// `<prefix>-<n>-<method>.txt`, existing files are overwritten.
func NewDump(dir, prefix string) (Dump, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return Dump{}, fmt.Errorf("create dump dir: %w", err)
	}
	var idcounter uint64
	return Dump{directory: dir, prefix: prefix, idcounter: &idcounter}, nil
}

func (d Dump) Instrument(client *resty.Client) {
	client.OnAfterResponse(d.onAfterResponse)
}

func (d Dump) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	id := atomic.AddUint64(d.idcounter, 1)
	name := fmt.Sprintf("%s-%03d-%s.txt", d.prefix, id, strings.ToLower(res.Request.Method))
	path := filepath.Join(d.directory, name)

	err := os.WriteFile(path, []byte(FormatExchange(res)), 0600)
	if err != nil {
		slog.Warn("failed to write http dump", "path", path, "err", err)
	}
	return nil
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			out.WriteString(fmt.Sprintf("%s: %s\n", k, v))
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

func formatRequestBody(req *http.Request) string {
	if req == nil || req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	// streamed bodies are consumed by the time the response arrives
	if req.GetBody == nil {
		return "<streamed body>"
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	defer body.Close()
	var out strings.Builder
	_, err = io.Copy(&out, body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return out.String()
}

// 1: request method
// 2: request url
// 3: request headers in ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response url
// 7: response headers in ("Key: Value" format)
// 8: response body
const messageInfoTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

// FormatExchange renders the request and response of res as text. The
// response body is empty for responses that were not parsed by resty.
func FormatExchange(res *resty.Response) string {
	var requestHeaders string
	if res.Request.RawRequest != nil {
		requestHeaders = formatHeaders(res.Request.RawRequest.Header)
	}

	responseUrl := res.Request.URL
	if res.RawResponse != nil {
		if redirected, err := res.RawResponse.Location(); err == nil {
			responseUrl = redirected.String()
		}
	}

	return fmt.Sprintf(
		messageInfoTemplate,

		res.Request.Method, res.Request.URL,
		requestHeaders,
		formatRequestBody(res.Request.RawRequest),

		strconv.Itoa(res.StatusCode()), responseUrl,
		formatHeaders(res.Header()),
		res.String(),
	)
}
