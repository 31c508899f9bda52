package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deusflow/metalnews/internal/logger"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"10.0.0.1:3128":          "http://10.0.0.1:3128",
		"socks5://10.0.0.1:1080": "socks5://10.0.0.1:1080",
		" http://p:8080 ":        "http://p:8080",
		"":                       "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStaticProxyWins(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintln(w, "1.1.1.1:80")
	}))
	defer srv.Close()

	p := NewPool("10.0.0.1:3128", srv.URL, logger.Discard())
	for i := 0; i < 3; i++ {
		if got := p.Next(context.Background()); got != "http://10.0.0.1:3128" {
			t.Fatalf("Next() = %q", got)
		}
	}
	if hits.Load() != 0 {
		t.Fatal("proxy list must not be fetched when a static proxy is set")
	}
}

func TestPoolLoadsOnceAndRotates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "# list\n1.1.1.1:80\n\n2.2.2.2:80\nsocks5://3.3.3.3:1080\n")
	}))
	defer srv.Close()

	p := NewPool("", srv.URL, logger.Discard())
	if hits.Load() != 0 {
		t.Fatal("pool must load lazily")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[string]int{}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := p.Next(context.Background())
			mu.Lock()
			counts[got]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if hits.Load() != 1 {
		t.Fatalf("proxy list fetched %d times", hits.Load())
	}
	if p.Size() != 3 {
		t.Fatalf("Size() = %d", p.Size())
	}
	for _, want := range []string{"http://1.1.1.1:80", "http://2.2.2.2:80", "socks5://3.3.3.3:1080"} {
		if counts[want] != 10 {
			t.Errorf("%s handed out %d times, want 10", want, counts[want])
		}
	}
}

func TestPoolWithoutSource(t *testing.T) {
	p := NewPool("", "", logger.Discard())
	if got := p.Next(context.Background()); got != "" {
		t.Fatalf("Next() = %q", got)
	}
}

func TestPoolDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPool("", srv.URL, logger.Discard())
	if got := p.Next(context.Background()); got != "" {
		t.Fatalf("Next() = %q", got)
	}
}

func TestPoolRetriesAfterFailedDownload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "1.1.1.1:80\n")
	}))
	defer srv.Close()

	now := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
	p := NewPool("", srv.URL, logger.Discard())
	p.now = func() time.Time { return now }

	if got := p.Next(context.Background()); got != "" {
		t.Fatalf("first Next() = %q", got)
	}
	if got := p.Next(context.Background()); got != "" || hits.Load() != 1 {
		t.Fatalf("Next() = %q with %d downloads, want a wait before retrying", got, hits.Load())
	}

	now = now.Add(reloadBackoff)
	if got := p.Next(context.Background()); got != "http://1.1.1.1:80" {
		t.Fatalf("Next() after backoff = %q", got)
	}
	if hits.Load() != 2 || p.Size() != 1 {
		t.Fatalf("downloads=%d size=%d", hits.Load(), p.Size())
	}

	p.Next(context.Background())
	if hits.Load() != 2 {
		t.Fatal("a loaded pool must not download again")
	}
}

func TestPoolRetriesAfterCancelledDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "2.2.2.2:80\n")
	}))
	defer srv.Close()

	p := NewPool("", srv.URL, logger.Discard())
	p.backoff = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := p.Next(ctx); got != "" {
		t.Fatalf("Next(cancelled) = %q", got)
	}
	if got := p.Next(context.Background()); got != "http://2.2.2.2:80" {
		t.Fatalf("Next() = %q", got)
	}
}
