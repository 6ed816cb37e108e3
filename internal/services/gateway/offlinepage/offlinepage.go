// Package offlinepage renders the HTML page served to navigations that
// cannot reach the farm server and have nothing cached.
package offlinepage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
)

// LangParam selects the page language from the query string.
const LangParam = "lang"

// Supported lists the page languages; the first is the default.
var Supported = []language.Tag{language.English, language.Swahili}

var matcher = language.NewMatcher(Supported)

// PendingFunc reports how many offline actions are waiting to sync.
type PendingFunc func(ctx context.Context) int

// Renderer builds localized offline pages.
type Renderer struct {
	catalog *catalog.Builder
	pending PendingFunc
	logger  *zap.Logger
}

// New builds a Renderer. pending may be nil.
func New(pending PendingFunc, logger *zap.Logger) (*Renderer, error) {
	builder, err := buildCatalog()
	if err != nil {
		return nil, fmt.Errorf("build offline catalog: %w", err)
	}
	return &Renderer{catalog: builder, pending: pending, logger: logging.OrNop(logger)}, nil
}

// Data is the view model of the offline page.
type Data struct {
	Lang    string
	Title   string
	Heading string
	Body    string
	Pending string
	Retry   string
}

// ResolveTag picks the page language from the lang query parameter, then
// Accept-Language, then the default.
func ResolveTag(r *http.Request) language.Tag {
	if r == nil {
		return Supported[0]
	}
	if lang := strings.TrimSpace(r.URL.Query().Get(LangParam)); lang != "" {
		if tag, err := language.Parse(lang); err == nil {
			return match(tag)
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			return match(tags...)
		}
	}
	return Supported[0]
}

func match(tags ...language.Tag) language.Tag {
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return Supported[0]
	}
	return Supported[index]
}

// Data localizes the page for tag.
func (rd *Renderer) Data(ctx context.Context, tag language.Tag) Data {
	printer := message.NewPrinter(tag, message.Catalog(rd.catalog))
	data := Data{
		Lang:    tag.String(),
		Title:   localize(printer, keyTitle),
		Heading: localize(printer, keyHeading),
		Body:    localize(printer, keyBody),
		Retry:   localize(printer, keyRetry),
	}
	if rd.pending != nil {
		if n := rd.pending(ctx); n > 0 {
			data.Pending = localize(printer, keyPending, n)
		}
	}
	return data
}

func localize(printer *message.Printer, key string, args ...any) string {
	return printer.Sprintf(message.Key(key, key), args...)
}

// Render returns the page for r. It never fails; a render error falls back
// to a bare heading.
func (rd *Renderer) Render(r *http.Request) []byte {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	data := rd.Data(ctx, ResolveTag(r))
	var buf bytes.Buffer
	if err := Page(data).Render(ctx, &buf); err != nil {
		rd.logger.Warn("render offline page", zap.Error(err))
		return []byte("<h1>" + templ.EscapeString(data.Heading) + "</h1>")
	}
	return buf.Bytes()
}

// Page is the offline page component.
func Page(data Data) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html lang="`)
		b.WriteString(templ.EscapeString(data.Lang))
		b.WriteString(`"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		b.WriteString(templ.EscapeString(data.Title))
		b.WriteString(`</title><style>`)
		b.WriteString(pageStyle)
		b.WriteString(`</style></head><body><main><h1>`)
		b.WriteString(templ.EscapeString(data.Heading))
		b.WriteString(`</h1><p>`)
		b.WriteString(templ.EscapeString(data.Body))
		b.WriteString(`</p>`)
		if data.Pending != "" {
			b.WriteString(`<p class="pending">`)
			b.WriteString(templ.EscapeString(data.Pending))
			b.WriteString(`</p>`)
		}
		b.WriteString(`<button type="button" onclick="location.reload()">`)
		b.WriteString(templ.EscapeString(data.Retry))
		b.WriteString(`</button></main></body></html>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

const pageStyle = `body{font-family:system-ui,sans-serif;background:#f4f1ea;color:#2f3b2f;display:flex;min-height:100vh;align-items:center;justify-content:center;margin:0}` +
	`main{max-width:28rem;padding:2rem;text-align:center}` +
	`.pending{font-weight:600;color:#7a5c1e}` +
	`button{padding:.6rem 1.4rem;border:0;border-radius:.4rem;background:#3f6b3a;color:#fff;font-size:1rem}`
