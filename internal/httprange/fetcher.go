// Package httprange issues HTTP byte-range requests with strict response
// validation. Servers that answer a range request ambiguously (no range
// support, wrong length) fail loudly instead of silently returning wrong
// bytes.
package httprange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mrevell/slotstream/internal/errs"
)

const defaultTimeout = 30 * time.Second

// Fetcher performs GET/HEAD requests with a fixed user agent and timeout.
type Fetcher struct {
	client *http.Client
	log    *slog.Logger

	// UserAgent is sent on every request.
	UserAgent string
	// Authorization, when non-empty, is sent as the Authorization header.
	Authorization string
	// Cookie, when non-empty, is sent as the Cookie header. The update
	// catalog requires a fixed consent cookie.
	Cookie string
}

// NewFetcher creates a fetcher with the default timeout.
func NewFetcher(userAgent string) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: defaultTimeout},
		log:       slog.Default().With("component", "httprange"),
		UserAgent: userAgent,
	}
}

func (f *Fetcher) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	if f.Authorization != "" {
		req.Header.Set("Authorization", f.Authorization)
	}
	if f.Cookie != "" {
		req.Header.Set("Cookie", f.Cookie)
	}
	return req, nil
}

// ContentLength issues a HEAD request and returns the total object size.
// The server must advertise byte-range support.
func (f *Fetcher) ContentLength(ctx context.Context, url string) (int64, error) {
	req, err := f.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransfer, err, "build HEAD request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransfer, err, "HEAD %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, errs.New(errs.KindTransfer, "HEAD %s returned status %d", url, resp.StatusCode)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return 0, errs.New(errs.KindTransfer, "server does not support byte ranges for %s", url)
	}
	if resp.ContentLength < 0 {
		return 0, errs.New(errs.KindTransfer, "server did not report a content length for %s", url)
	}
	return resp.ContentLength, nil
}

// FetchRange issues a GET for bytes [start, end] (inclusive) and returns the
// body stream. The response must be 2xx, must come from a range-capable
// server, and must carry a Content-Length exactly matching the requested
// range. The caller owns closing the returned body.
func (f *Fetcher) FetchRange(ctx context.Context, url string, start, end int64) (io.ReadCloser, error) {
	if start < 0 || end < start {
		return nil, errs.New(errs.KindTransfer, "invalid range %d-%d", start, end)
	}

	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransfer, err, "build GET request")
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransfer, err, "GET %s", url)
	}

	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, errs.New(errs.KindTransfer, "GET %s returned status %d", url, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusPartialContent && resp.Header.Get("Accept-Ranges") != "bytes" {
		resp.Body.Close()
		return nil, errs.New(errs.KindTransfer, "server ignored range request for %s", url)
	}
	want := end - start + 1
	if resp.ContentLength != want {
		resp.Body.Close()
		return nil, errs.New(errs.KindTransfer,
			"content length %d does not match requested range length %d", resp.ContentLength, want)
	}

	f.log.DebugContext(ctx, "Range fetch", "url", url, "start", start, "end", end)
	return resp.Body, nil
}

// ReadRange fetches bytes [start, start+size) and returns them fully read.
// Short reads and trailing bytes are both transfer errors.
func (f *Fetcher) ReadRange(ctx context.Context, url string, start, size int64) ([]byte, error) {
	body, err := f.FetchRange(ctx, url, start, start+size-1)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	buf := make([]byte, size)
	if _, err := io.ReadFull(body, buf); err != nil {
		return nil, errs.Wrap(errs.KindTransfer, err, "range response ended early")
	}
	if err := expectEOF(body); err != nil {
		return nil, err
	}
	return buf, nil
}

// CopyRange streams bytes [start, start+size) into sink with the same
// exactness guarantees as ReadRange.
func (f *Fetcher) CopyRange(ctx context.Context, url string, start, size int64, sink io.Writer) error {
	body, err := f.FetchRange(ctx, url, start, start+size-1)
	if err != nil {
		return err
	}
	defer body.Close()

	n, err := io.Copy(sink, io.LimitReader(body, size))
	if err != nil {
		return errs.Wrap(errs.KindTransfer, err, "copy range body")
	}
	if n != size {
		return errs.New(errs.KindTransfer, "range response ended early: got %d of %d bytes", n, size)
	}
	return expectEOF(body)
}

// Get issues a plain GET (no range) and returns the full body. Used for the
// catalog page, which has no known length up front.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransfer, err, "build GET request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransfer, err, "GET %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, errs.New(errs.KindTransfer, "GET %s returned status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransfer, err, "read body of %s", url)
	}
	return data, nil
}

// expectEOF asserts the stream has no bytes beyond the expected count.
// Extra bytes are a protocol violation, not a size to silently truncate.
func expectEOF(r io.Reader) error {
	var extra [1]byte
	for {
		n, err := r.Read(extra[:])
		if n > 0 {
			return errs.New(errs.KindTransfer, "range response carries trailing bytes")
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.KindTransfer, err, "drain range response")
		}
	}
}
