package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/deusflow/metalnews/internal/config"
	"github.com/deusflow/metalnews/internal/logger"
	"github.com/deusflow/metalnews/internal/retry"
)

type fakeStrategy struct {
	name string

	mu      sync.Mutex
	calls   int
	proxies []string
	respond func(call int) (*Response, error)
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Fetch(_ context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.proxies = append(f.proxies, req.Proxy)
	f.mu.Unlock()
	return f.respond(call)
}

func status(code int) func(int) (*Response, error) {
	return func(int) (*Response, error) {
		return &Response{Status: code}, nil
	}
}

func ok(body string) func(int) (*Response, error) {
	return func(int) (*Response, error) {
		return &Response{Status: 200, Body: []byte(body), ContentType: "text/xml; charset=utf-8"}, nil
	}
}

type noSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (n *noSleep) sleep(_ context.Context, d time.Duration) error {
	n.mu.Lock()
	n.waits = append(n.waits, d)
	n.mu.Unlock()
	return nil
}

type rotatingProxies struct {
	mu sync.Mutex
	n  int
}

func (r *rotatingProxies) Next(context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return "http://proxy-" + string(rune('0'+r.n)) + ":8080"
}

func newTestFetcher(chain []Strategy, render Strategy, proxies ProxySource, s *noSleep) *Fetcher {
	policy := retry.DefaultPolicy()
	policy.Sleep = s.sleep
	return NewWithStrategies(chain, render, proxies, policy, logger.Discard())
}

var feedSource = config.Source{Name: "test", Kind: config.KindFeed, URL: "https://example.com/feed"}

func TestFetchFirstStrategyWins(t *testing.T) {
	direct := &fakeStrategy{name: "direct", respond: ok("<rss/>")}
	bypass := &fakeStrategy{name: "bypass", respond: ok("never")}
	f := newTestFetcher([]Strategy{direct, bypass}, nil, nil, &noSleep{})

	p, err := f.Fetch(context.Background(), feedSource)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Text != "<rss/>" || p.Strategy != "direct" || p.Charset != "utf-8" {
		t.Fatalf("payload = %+v", p)
	}
	if bypass.calls != 0 {
		t.Fatal("second strategy should not run")
	}
}

func TestFetchFallsThroughAfterRejections(t *testing.T) {
	direct := &fakeStrategy{name: "direct", respond: status(403)}
	bypass := &fakeStrategy{name: "bypass", respond: ok("<rss/>")}
	sl := &noSleep{}
	f := newTestFetcher([]Strategy{direct, bypass}, nil, nil, sl)

	p, err := f.Fetch(context.Background(), feedSource)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if direct.calls != 3 || bypass.calls != 1 || p.Strategy != "bypass" {
		t.Fatalf("direct=%d bypass=%d strategy=%s", direct.calls, bypass.calls, p.Strategy)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sl.waits) != 2 || sl.waits[0] != want[0] || sl.waits[1] != want[1] {
		t.Fatalf("waits = %v, want %v", sl.waits, want)
	}
}

func TestFetchRateLimitStopsChain(t *testing.T) {
	direct := &fakeStrategy{name: "direct", respond: status(429)}
	bypass := &fakeStrategy{name: "bypass", respond: ok("<rss/>")}
	sl := &noSleep{}
	f := newTestFetcher([]Strategy{direct, bypass}, nil, nil, sl)

	_, err := f.Fetch(context.Background(), feedSource)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if direct.calls != 3 {
		t.Fatalf("direct called %d times", direct.calls)
	}
	if bypass.calls != 0 {
		t.Fatal("no further strategy may run after rate limit exhaustion")
	}
	if len(sl.waits) != 2 || sl.waits[0] != 30*time.Second || sl.waits[1] != 60*time.Second {
		t.Fatalf("waits = %v", sl.waits)
	}
}

func TestFetchMixedFailuresEndingInRateLimitFallThrough(t *testing.T) {
	direct := &fakeStrategy{name: "direct", respond: func(call int) (*Response, error) {
		if call < 3 {
			return &Response{Status: http.StatusServiceUnavailable}, nil
		}
		return &Response{Status: http.StatusTooManyRequests}, nil
	}}
	bypass := &fakeStrategy{name: "bypass", respond: ok("<rss/>")}
	f := newTestFetcher([]Strategy{direct, bypass}, nil, nil, &noSleep{})

	p, err := f.Fetch(context.Background(), feedSource)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if direct.calls != 3 || bypass.calls != 1 || p.Strategy != "bypass" {
		t.Fatalf("direct=%d bypass=%d strategy=%q", direct.calls, bypass.calls, p.Strategy)
	}
}

func TestFetchAllStrategiesFail(t *testing.T) {
	boom := errors.New("connection reset")
	direct := &fakeStrategy{name: "direct", respond: func(int) (*Response, error) { return nil, boom }}
	bypass := &fakeStrategy{name: "bypass", respond: status(404)}
	f := newTestFetcher([]Strategy{direct, bypass}, nil, nil, &noSleep{})

	_, err := f.Fetch(context.Background(), feedSource)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v should wrap the transport error", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 404 {
		t.Fatalf("err = %v should carry the 404", err)
	}
}

func TestFetchRecoversWithinStrategy(t *testing.T) {
	direct := &fakeStrategy{name: "direct", respond: func(call int) (*Response, error) {
		if call < 3 {
			return &Response{Status: 503}, nil
		}
		return &Response{Status: 200, Body: []byte("ok")}, nil
	}}
	f := newTestFetcher([]Strategy{direct}, nil, nil, &noSleep{})

	p, err := f.Fetch(context.Background(), feedSource)
	if err != nil || p.Text != "ok" {
		t.Fatalf("p=%+v err=%v", p, err)
	}
}

func TestRenderOnlyWhenRequired(t *testing.T) {
	direct := &fakeStrategy{name: "direct", respond: status(500)}
	render := &fakeStrategy{name: "render", respond: ok("<html></html>")}
	f := newTestFetcher([]Strategy{direct}, render, nil, &noSleep{})

	if _, err := f.Fetch(context.Background(), feedSource); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v", err)
	}
	if render.calls != 0 {
		t.Fatal("render must not run unless the source requires it")
	}

	src := feedSource
	src.RequiresRendering = true
	p, err := f.Fetch(context.Background(), src)
	if err != nil || p.Strategy != "render" {
		t.Fatalf("p=%+v err=%v", p, err)
	}
}

func TestFetchDrawsProxyPerAttempt(t *testing.T) {
	direct := &fakeStrategy{name: "direct", respond: status(502)}
	f := newTestFetcher([]Strategy{direct}, nil, &rotatingProxies{}, &noSleep{})

	src := feedSource
	src.RequiresProxy = true
	_, _ = f.Fetch(context.Background(), src)

	if len(direct.proxies) != 3 {
		t.Fatalf("proxies = %v", direct.proxies)
	}
	seen := map[string]bool{}
	for _, p := range direct.proxies {
		if p == "" || seen[p] {
			t.Fatalf("each attempt needs a fresh proxy: %v", direct.proxies)
		}
		seen[p] = true
	}
}

func TestFetchWithoutProxyRequirement(t *testing.T) {
	direct := &fakeStrategy{name: "direct", respond: ok("x")}
	f := newTestFetcher([]Strategy{direct}, nil, &rotatingProxies{}, &noSleep{})
	if _, err := f.Fetch(context.Background(), feedSource); err != nil {
		t.Fatal(err)
	}
	if direct.proxies[0] != "" {
		t.Fatal("proxy used for a source that does not require one")
	}
}

func TestFetchDecodesDeclaredCharset(t *testing.T) {
	body, _ := charmap.Windows1251.NewEncoder().Bytes([]byte("Сталь"))
	direct := &fakeStrategy{name: "direct", respond: func(int) (*Response, error) {
		return &Response{Status: 200, Body: body, ContentType: "text/html; charset=windows-1251"}, nil
	}}
	f := newTestFetcher([]Strategy{direct}, nil, nil, &noSleep{})

	p, err := f.Fetch(context.Background(), feedSource)
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "Сталь" || p.Charset != "windows-1251" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestDirectStrategy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" || r.Header.Get("Accept-Language") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		_, _ = w.Write([]byte("<rss></rss>"))
	}))
	defer srv.Close()

	d := NewDirect(5 * time.Second)
	resp, err := d.Fetch(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "<rss></rss>" {
		t.Fatalf("resp = %+v", resp)
	}
	if charsetOf(resp.ContentType) != "utf-8" {
		t.Fatalf("content type = %q", resp.ContentType)
	}
}

func TestDirectStrategyReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := NewDirect(5*time.Second).Fetch(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d", resp.Status)
	}
}

func TestWaitIdle(t *testing.T) {
	if err := waitIdle(context.Background(), func() bool { return true }, time.Second); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := waitIdle(context.Background(), func() bool { return false }, 150*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Fatal("returned before limit")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := waitIdle(ctx, func() bool { return false }, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
