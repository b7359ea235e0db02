package cache

import (
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	if got := Key("source", "42"); got != "evidencegate:v1:source:42" {
		t.Errorf("unexpected key %q", got)
	}
	if got := Key("source", "domain", "worldbank.org"); got != "evidencegate:v1:source:domain:worldbank.org" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}

	if err := c.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok := c.Get("k")
	if !ok || string(got) != "v" {
		t.Errorf("expected hit with v, got %q %v", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}

	_ = c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	_ = c.Set("short", []byte("v"), 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("expected entry to expire")
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	_ = c.Set("a", []byte("1"), 0)
	_ = c.Set("b", []byte("2"), 0)

	_ = c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestJSONHelpers(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	type source struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	key := Key("source", "7")
	if err := SetJSON(c, key, source{ID: 7, Name: "Central Bank"}, 0); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got source
	if !GetJSON(c, key, &got) || got.Name != "Central Bank" {
		t.Errorf("expected cached source, got %+v", got)
	}

	_ = c.Set(key, []byte("{broken"), 0)
	if GetJSON(c, key, &got) {
		t.Error("expected corrupt entry to be treated as a miss")
	}
	if _, ok := c.Get(key); ok {
		t.Error("expected corrupt entry to be evicted")
	}
}

func TestMemoryCache_CopiesValues(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	buf := []byte("source")
	_ = c.Set("k", buf, 0)
	buf[0] = 'X'

	got, _ := c.Get("k")
	if string(got) != "source" {
		t.Errorf("cached value changed with caller buffer: %q", got)
	}
	got[0] = 'Y'
	again, _ := c.Get("k")
	if string(again) != "source" {
		t.Errorf("cached value changed through returned slice: %q", again)
	}
}
