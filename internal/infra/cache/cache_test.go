package cache_test

import (
	"testing"
	"time"

	"github.com/verdesk/verai-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](time.Minute)

	c.Set("query:boleto", "contexto recuperado")

	got, ok := c.Get("query:boleto")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "contexto recuperado" {
		t.Errorf("expected stored value, got %q", got)
	}
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := cache.New[string](time.Minute)

	if _, ok := c.Get("nope"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := cache.New[string](20 * time.Millisecond)

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after TTL")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](time.Minute)

	c.Set("k", "v")
	c.Delete("k")

	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestCache_GenericTypes(t *testing.T) {
	c := cache.New[[]int](time.Minute)

	c.Set("ids", []int{1, 2, 3})

	got, ok := c.Get("ids")
	if !ok || len(got) != 3 {
		t.Errorf("expected stored slice, got %v (hit=%v)", got, ok)
	}
}
