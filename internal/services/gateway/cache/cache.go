package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// CachedDateHeader marks when the gateway stored a response.
const CachedDateHeader = "X-Cached-Date"

// Kind names one of the four partition roles.
type Kind string

const (
	KindStatic  Kind = "static"
	KindDynamic Kind = "dynamic"
	KindImages  Kind = "images"
	KindAPI     Kind = "api"
)

// Kinds lists every partition role in a stable order.
func Kinds() []Kind {
	return []Kind{KindStatic, KindDynamic, KindImages, KindAPI}
}

// ParseKind resolves a partition role from its name.
func ParseKind(value string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Kinds() {
		if kind == known {
			return kind, true
		}
	}
	return "", false
}

// Partitions resolves versioned partition names. Bumping Version is the
// invalidation mechanism: old names are removed by Activate.
type Partitions struct {
	Prefix  string
	Version string
}

// Name returns the versioned partition name for kind.
func (p Partitions) Name(kind Kind) string {
	prefix := strings.TrimSpace(p.Prefix)
	if prefix == "" {
		prefix = "adonai"
	}
	version := strings.TrimSpace(p.Version)
	if version == "" {
		version = "v1"
	}
	return prefix + "-" + string(kind) + "-" + version
}

// Names returns the current name of every partition.
func (p Partitions) Names() []string {
	kinds := Kinds()
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, p.Name(kind))
	}
	return names
}

// Entry is one stored response.
type Entry struct {
	Partition  string
	Key        string
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Date returns the entry timestamp: the cached-date marker, then the Date
// header, then the store time.
func (e Entry) Date() time.Time {
	for _, name := range []string{CachedDateHeader, "Date"} {
		if raw := strings.TrimSpace(e.Header.Get(name)); raw != "" {
			if parsed, err := http.ParseTime(raw); err == nil {
				return parsed.UTC()
			}
		}
	}
	return e.StoredAt
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	clone := e
	clone.Header = e.Header.Clone()
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	clone.Body = append([]byte(nil), e.Body...)
	return clone
}

// Key builds the request key for method and absolute URL.
func Key(method string, target *url.URL) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if target == nil {
		return method + " "
	}
	return method + " " + target.String()
}

// KeyURL extracts the URL from a request key built by Key.
func KeyURL(key string) (*url.URL, error) {
	_, raw, ok := strings.Cut(key, " ")
	if !ok {
		return nil, fmt.Errorf("malformed cache key %q", key)
	}
	return url.Parse(raw)
}

// Store persists partitioned entries. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, partition, key string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, partition, key string) error
	// Keys lists the keys of one partition in ascending order.
	Keys(ctx context.Context, partition string) ([]string, error)
	// Partitions lists every partition holding at least one entry.
	Partitions(ctx context.Context) ([]string, error)
	Clear(ctx context.Context, partition string) error
	Close() error
}

// Activate removes every stored partition not named by current and
// returns the removed names.
func Activate(ctx context.Context, store Store, current Partitions) ([]string, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	stored, err := store.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	keep := make(map[string]struct{}, len(Kinds()))
	for _, name := range current.Names() {
		keep[name] = struct{}{}
	}
	var removed []string
	for _, name := range stored {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := store.Clear(ctx, name); err != nil {
			return removed, fmt.Errorf("clear partition %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// PartitionSummary describes one partition for operators.
type PartitionSummary struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Keys    int    `json:"keys"`
}

// Summarize lists the current partitions plus any stale ones still stored,
// sorted by name, with their key counts.
func Summarize(ctx context.Context, store Store, current Partitions) ([]PartitionSummary, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	stored, err := store.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	isCurrent := map[string]bool{}
	for _, name := range current.Names() {
		isCurrent[name] = true
	}
	names := current.Names()
	for _, name := range stored {
		if !isCurrent[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	summaries := make([]PartitionSummary, 0, len(names))
	for _, name := range names {
		keys, err := store.Keys(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("list keys of %s: %w", name, err)
		}
		summaries = append(summaries, PartitionSummary{Name: name, Current: isCurrent[name], Keys: len(keys)})
	}
	return summaries, nil
}

// ResolvePartition maps a kind ("static") to its current name and passes
// any other value through as a literal partition name.
func ResolvePartition(current Partitions, value string) string {
	if kind, ok := ParseKind(value); ok {
		return current.Name(kind)
	}
	return strings.TrimSpace(value)
}

// ValidateEntry checks the fields every store requires.
func ValidateEntry(entry Entry) error {
	if strings.TrimSpace(entry.Partition) == "" {
		return fmt.Errorf("cache partition is required")
	}
	if strings.TrimSpace(entry.Key) == "" {
		return fmt.Errorf("cache key is required")
	}
	if entry.StatusCode < 100 || entry.StatusCode > 599 {
		return fmt.Errorf("invalid status code %d", entry.StatusCode)
	}
	return nil
}
