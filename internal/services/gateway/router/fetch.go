package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// hopByHopHeaders are connection-scoped and never forwarded or stored.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// conditionalHeaders are dropped from cacheable fetches so the origin
// always returns a full body that can be stored.
var conditionalHeaders = []string{
	"If-Modified-Since",
	"If-None-Match",
	"If-Range",
	"If-Unmodified-Since",
	"If-Match",
}

// cookieHeaders carry per-client session state and never enter the cache.
var cookieHeaders = []string{"Set-Cookie", "Set-Cookie2"}

// response is an upstream or synthesized response. body holds the buffered
// prefix; rest is set when the upstream body exceeded the cache bound and
// the remainder must be streamed to the client.
type response struct {
	status int
	header http.Header
	body   []byte
	rest   io.ReadCloser
	source Source
}

// close releases an unstreamed upstream body.
func (resp *response) close() {
	if resp != nil && resp.rest != nil {
		_ = resp.rest.Close()
		resp.rest = nil
	}
}

// streamedBody closes the upstream body and releases its request context.
type streamedBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (s *streamedBody) Close() error {
	err := s.ReadCloser.Close()
	s.cancel()
	return err
}

// fetch sends r to target and buffers up to maxCacheBytes of the body under
// the fetch timeout. Larger bodies come back with rest set; the timeout
// stops applying once the buffered prefix has been read.
func (rt *Router) fetch(ctx context.Context, r *http.Request, target *url.URL) (*response, error) {
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(rt.fetchTimeout, cancel)
	handedOff := false
	defer func() {
		if !handedOff {
			timer.Stop()
			cancel()
		}
	}()

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body = r.Body
	}
	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	for _, name := range hopByHopHeaders {
		out.Header.Del(name)
	}
	// Let the transport negotiate compression so stored bodies are identity.
	out.Header.Del("Accept-Encoding")
	if r.Method == http.MethodGet {
		for _, name := range conditionalHeaders {
			out.Header.Del(name)
		}
	}
	if body != nil {
		out.ContentLength = r.ContentLength
	}

	resp, err := rt.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target.Redacted(), err)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, rt.maxCacheBytes+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("read %s: %w", target.Redacted(), err)
	}
	var rest io.ReadCloser
	if int64(len(data)) > rt.maxCacheBytes {
		if !timer.Stop() {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("read %s: %w", target.Redacted(), context.DeadlineExceeded)
		}
		handedOff = true
		rest = &streamedBody{ReadCloser: resp.Body, cancel: cancel}
	} else {
		_ = resp.Body.Close()
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for _, name := range hopByHopHeaders {
		header.Del(name)
	}
	header.Del("Content-Length")
	if rest != nil && resp.ContentLength >= 0 {
		header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	return &response{
		status: resp.StatusCode,
		header: header,
		body:   data,
		rest:   rest,
		source: SourceNetwork,
	}, nil
}

func isHopByHop(name string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for _, hop := range hopByHopHeaders {
		if canonical == hop {
			return true
		}
	}
	return false
}

// storable reports whether a live response to r may enter the shared cache.
// Oversized bodies, per-user responses and authorized responses that are not
// explicitly public stay out of it.
func storable(r *http.Request, resp *response) bool {
	if !cacheable(resp.status) || resp.rest != nil {
		return false
	}
	directives := cacheControl(resp.header)
	if directives["no-store"] || directives["private"] {
		return false
	}
	if r.Header.Get("Authorization") != "" && !directives["public"] {
		return false
	}
	return true
}

// cacheControl returns the lower-cased directive names of Cache-Control.
func cacheControl(header http.Header) map[string]bool {
	directives := map[string]bool{}
	for _, value := range header.Values("Cache-Control") {
		for _, part := range strings.Split(value, ",") {
			name, _, _ := strings.Cut(part, "=")
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				directives[name] = true
			}
		}
	}
	return directives
}

func stripCookies(header http.Header) {
	for _, name := range cookieHeaders {
		header.Del(name)
	}
}

// cacheable reports whether a status may be stored. Partial content is
// never stored because a later read would return a truncated body.
func cacheable(status int) bool {
	return status >= 200 && status < 300 && status != http.StatusPartialContent
}
