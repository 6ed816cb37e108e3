package router

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
)

type requestKind int

const (
	requestOther requestKind = iota
	requestHTML
	requestImage
	requestAPI
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".avif": {},
}

type rules struct {
	staticPrefixes   []string
	staticExtensions []string
	imagePrefixes    []string
	apiPrefix        string
}

// decision is the outcome of classifying one request.
type decision struct {
	strategy    Strategy
	kind        cache.Kind
	partition   string
	target      *url.URL
	key         string
	request     requestKind
	crossOrigin bool
}

// classify applies the dispatch rules; the first match wins.
func (rt *Router) classify(r *http.Request) decision {
	target, crossOrigin := rt.resolveTarget(r.URL)
	p := rt.localPath(r.URL, crossOrigin)
	d := decision{
		target:      target,
		key:         cache.Key(http.MethodGet, target),
		request:     rt.rules.requestKind(r, p),
		crossOrigin: crossOrigin,
	}

	switch {
	case r.Method != http.MethodGet:
		d.strategy = StrategyPassthrough
		d.key = ""
		return d
	case crossOrigin:
		d.strategy = StrategyNetworkFirst
		d.kind = cache.KindDynamic
	case d.request == requestHTML:
		d.strategy = StrategyNetworkFirst
		d.kind = cache.KindDynamic
	case d.request == requestImage && rt.rules.isFarmImage(p):
		d.strategy = StrategyImageFirst
		d.kind = cache.KindImages
	case rt.rules.isStatic(p):
		d.strategy = StrategyCacheFirst
		d.kind = cache.KindStatic
	case d.request == requestAPI:
		d.strategy = StrategyNetworkFirst
		d.kind = cache.KindAPI
	default:
		d.strategy = StrategyNetworkFirst
		d.kind = cache.KindDynamic
	}
	d.partition = rt.partitions.Name(d.kind)
	return d
}

// resolveTarget maps the incoming URL onto the upstream URL. Absolute-form
// requests for another host are cross-origin and fetched as-is.
func (rt *Router) resolveTarget(in *url.URL) (*url.URL, bool) {
	if in.IsAbs() && in.Host != "" {
		target := *in
		target.Fragment = ""
		sameOrigin := strings.EqualFold(in.Scheme, rt.origin.Scheme) && strings.EqualFold(in.Host, rt.origin.Host)
		return &target, !sameOrigin
	}
	target := *rt.origin
	target.Path = rt.origin.Path + in.Path
	target.RawPath = ""
	target.RawQuery = in.RawQuery
	return &target, false
}

// localPath is the path the dispatch rules match against: the request path
// relative to the origin, or the full path for cross-origin requests.
func (rt *Router) localPath(in *url.URL, crossOrigin bool) string {
	if crossOrigin || !in.IsAbs() {
		return in.Path
	}
	return "/" + strings.TrimLeft(strings.TrimPrefix(in.Path, rt.origin.Path), "/")
}

// originURL resolves a path on the origin.
func (rt *Router) originURL(p string) *url.URL {
	target := *rt.origin
	target.Path = rt.origin.Path + p
	return &target
}

func (ru rules) requestKind(r *http.Request, p string) requestKind {
	accept := strings.ToLower(r.Header.Get("Accept"))
	switch {
	case strings.Contains(accept, "text/html"):
		return requestHTML
	case isImageRequest(r, p, accept):
		return requestImage
	case strings.HasPrefix(p, ru.apiPrefix):
		return requestAPI
	default:
		return requestOther
	}
}

func isImageRequest(r *http.Request, p, accept string) bool {
	if _, ok := imageExtensions[strings.ToLower(path.Ext(p))]; ok {
		return true
	}
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Dest"), "image") {
		return true
	}
	return strings.HasPrefix(accept, "image/")
}

func (ru rules) isFarmImage(p string) bool {
	for _, prefix := range ru.imagePrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (ru rules) isStatic(p string) bool {
	for _, prefix := range ru.staticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	for _, known := range ru.staticExtensions {
		if ext == known {
			return true
		}
	}
	return false
}
