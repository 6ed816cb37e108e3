package cache

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPartitionsNames(t *testing.T) {
	p := Partitions{Prefix: "adonai", Version: "v3"}
	want := []string{"adonai-static-v3", "adonai-dynamic-v3", "adonai-images-v3", "adonai-api-v3"}
	if diff := cmp.Diff(want, p.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestPartitionsNameDefaults(t *testing.T) {
	if got := (Partitions{}).Name(KindImages); got != "adonai-images-v1" {
		t.Fatalf("name = %q, want %q", got, "adonai-images-v1")
	}
}

func TestParseKind(t *testing.T) {
	if kind, ok := ParseKind(" Images "); !ok || kind != KindImages {
		t.Fatalf("ParseKind = %q, %v", kind, ok)
	}
	if _, ok := ParseKind("videos"); ok {
		t.Fatal("expected unknown kind")
	}
}

func TestEntryDatePrefersCachedMarker(t *testing.T) {
	marker := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	date := marker.Add(-time.Hour)
	stored := marker.Add(-2 * time.Hour)

	entry := Entry{Header: http.Header{}, StoredAt: stored}
	if got := entry.Date(); !got.Equal(stored) {
		t.Fatalf("date without headers = %s, want %s", got, stored)
	}
	entry.Header.Set("Date", date.Format(http.TimeFormat))
	if got := entry.Date(); !got.Equal(date) {
		t.Fatalf("date with Date header = %s, want %s", got, date)
	}
	entry.Header.Set(CachedDateHeader, marker.Format(http.TimeFormat))
	if got := entry.Date(); !got.Equal(marker) {
		t.Fatalf("date with marker = %s, want %s", got, marker)
	}
}

func TestEntryCloneIsDeep(t *testing.T) {
	original := Entry{Header: http.Header{"X-A": {"1"}}, Body: []byte("abc")}
	clone := original.Clone()
	clone.Header.Set("X-A", "2")
	clone.Body[0] = 'z'
	if original.Header.Get("X-A") != "1" || string(original.Body) != "abc" {
		t.Fatal("clone shares state with original")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	target, _ := url.Parse("http://farm.local/images/farm-1.jpg?w=200")
	key := Key("get", target)
	if key != "GET http://farm.local/images/farm-1.jpg?w=200" {
		t.Fatalf("key = %q", key)
	}
	parsed, err := KeyURL(key)
	if err != nil {
		t.Fatalf("KeyURL: %v", err)
	}
	if parsed.Path != "/images/farm-1.jpg" {
		t.Fatalf("path = %q", parsed.Path)
	}
	if _, err := KeyURL("nospace"); err == nil {
		t.Fatal("expected malformed key error")
	}
}

func TestValidateEntry(t *testing.T) {
	valid := Entry{Partition: "p", Key: "k", StatusCode: 200}
	if err := ValidateEntry(valid); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for name, entry := range map[string]Entry{
		"partition": {Key: "k", StatusCode: 200},
		"key":       {Partition: "p", StatusCode: 200},
		"status":    {Partition: "p", Key: "k", StatusCode: 42},
	} {
		if err := ValidateEntry(entry); err == nil {
			t.Fatalf("expected %s error", name)
		}
	}
}

func TestResolvePartition(t *testing.T) {
	current := Partitions{Prefix: "adonai", Version: "v3"}
	if got := ResolvePartition(current, "API"); got != "adonai-api-v3" {
		t.Fatalf("kind = %q", got)
	}
	if got := ResolvePartition(current, " adonai-static-v1 "); got != "adonai-static-v1" {
		t.Fatalf("literal = %q", got)
	}
}
