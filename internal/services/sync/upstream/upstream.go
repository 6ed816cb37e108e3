// Package upstream replays queued offline actions against the farm API.
package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/timeouts"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/domain"
)

// Config wires an Applier.
type Config struct {
	Origin *url.URL
	// APIPrefix is the path under which entity routes live.
	APIPrefix string
	Client    *http.Client
	Timeout   time.Duration
	// Blobs receives inline photo data before the photo is posted. Inline
	// data is posted as-is when nil.
	Blobs  BlobStore
	Logger *zap.Logger
}

// Applier replays actions over HTTP. Client errors (4xx except 408 and 429)
// are permanent; server and transport errors are retried.
type Applier struct {
	origin    *url.URL
	apiPrefix string
	client    *http.Client
	timeout   time.Duration
	blobs     BlobStore
	logger    *zap.Logger
}

// New builds an Applier.
func New(cfg Config) (*Applier, error) {
	if cfg.Origin == nil || cfg.Origin.Host == "" {
		return nil, errors.New("origin url is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.Fetch
	}
	prefix := strings.TrimSpace(cfg.APIPrefix)
	if prefix == "" {
		prefix = "/api"
	}
	origin := *cfg.Origin
	origin.Path = strings.TrimRight(origin.Path, "/")
	origin.RawQuery = ""
	return &Applier{
		origin:    &origin,
		apiPrefix: "/" + strings.Trim(prefix, "/"),
		client:    client,
		timeout:   timeout,
		blobs:     cfg.Blobs,
		logger:    logging.OrNop(cfg.Logger),
	}, nil
}

// Apply sends action to the farm API.
func (a *Applier) Apply(ctx context.Context, action domain.QueuedAction) error {
	_, err := a.ApplyRewritten(ctx, action)
	return err
}

// ApplyRewritten sends action to the farm API and returns a copy carrying
// the payload the origin accepted. action itself is never mutated.
func (a *Applier) ApplyRewritten(ctx context.Context, action domain.QueuedAction) (domain.QueuedAction, error) {
	if !action.Action.Valid() {
		return action, domain.Permanent(fmt.Errorf("%w: %q", domain.ErrUnknownAction, action.Action))
	}
	id, ok := action.Payload.ID()
	if !ok {
		return action, domain.Permanent(domain.ErrInvalidPayload)
	}

	applied := action.Clone()
	payload := applied.Payload
	if action.Action == domain.ActionUploadPhoto {
		if err := a.uploadInlinePhoto(ctx, payload); err != nil {
			return action, err
		}
	}

	method, target := a.route(action.Action, id)
	var body io.Reader
	if method != http.MethodDelete {
		data, err := json.Marshal(payload)
		if err != nil {
			return action, domain.Permanent(fmt.Errorf("encode %s payload: %w", action.Action, err))
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return action, domain.Permanent(fmt.Errorf("build %s request: %w", action.Action, err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", action.ID)

	resp, err := a.client.Do(req)
	if err != nil {
		return action, fmt.Errorf("replay %s: %w", action.Action, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		a.logger.Debug("replayed offline action",
			zap.String("id", action.ID),
			zap.String("action", string(action.Action)),
			zap.Int("status", resp.StatusCode),
		)
		return applied, nil
	case retryable(resp.StatusCode):
		return action, fmt.Errorf("replay %s: origin returned %d: %s", action.Action, resp.StatusCode, strings.TrimSpace(string(detail)))
	default:
		return action, domain.Permanent(fmt.Errorf("replay %s: origin rejected with %d: %s", action.Action, resp.StatusCode, strings.TrimSpace(string(detail))))
	}
}

// route maps an action onto its REST call.
func (a *Applier) route(action domain.Action, id string) (string, string) {
	collection := a.origin.String() + a.apiPrefix + "/" + string(action.Entity())
	switch action.Op() {
	case domain.OpUpdate:
		return http.MethodPut, collection + "/" + url.PathEscape(id)
	case domain.OpDelete:
		return http.MethodDelete, collection + "/" + url.PathEscape(id)
	default:
		return http.MethodPost, collection
	}
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

// uploadInlinePhoto moves base64 data from payload into the blob store and
// replaces it with the stored object's url and key.
func (a *Applier) uploadInlinePhoto(ctx context.Context, payload domain.Record) error {
	if a.blobs == nil {
		return nil
	}
	raw, ok := payload["data"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	contentType, data, err := decodeDataURL(raw)
	if err != nil {
		return domain.Permanent(fmt.Errorf("decode photo data: %w", err))
	}
	if declared, ok := payload["content_type"].(string); ok && declared != "" {
		contentType = declared
	}
	key, location, err := a.blobs.PutBlob(ctx, data, contentType)
	if err != nil {
		return fmt.Errorf("upload photo: %w", err)
	}
	delete(payload, "data")
	payload["url"] = location
	payload["storage_key"] = key
	if contentType != "" {
		payload["content_type"] = contentType
	}
	return nil
}

// decodeDataURL accepts a data URL or bare base64.
func decodeDataURL(raw string) (string, []byte, error) {
	raw = strings.TrimSpace(raw)
	contentType := ""
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		meta, encoded, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return "", nil, errors.New("photo data url must be base64 encoded")
		}
		contentType = strings.TrimSuffix(meta, ";base64")
		raw = encoded
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", nil, err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return contentType, data, nil
}
