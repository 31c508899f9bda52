package cache

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New[string](time.Hour, 0)
	defer c.Close()

	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("unexpected hit")
	}
}

func TestExpiry(t *testing.T) {
	c := New[int](10*time.Millisecond, 0)
	defer c.Close()

	c.Set("k", 1)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestSweep(t *testing.T) {
	c := New[int](5*time.Millisecond, 10*time.Millisecond)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Fatalf("sweep left %d entries", c.Len())
	}
}

func TestCloseTwice(t *testing.T) {
	c := New[int](time.Minute, time.Minute)
	c.Close()
	c.Close()
}

func TestKey(t *testing.T) {
	if Key("ru", "steel") != Key("ru", "steel") {
		t.Fatal("key not deterministic")
	}
	if Key("ru", "steel") == Key("rus", "teel") {
		t.Fatal("parts must be separated")
	}
	if len(Key("x")) != 64 {
		t.Fatal("expected a hex sha256")
	}
}
