// Package proxy hands out outbound proxies for sources that need them.
package proxy

import (
	"bufio"
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// reloadBackoff is the minimum gap between list downloads while the pool
// is empty.
const reloadBackoff = 30 * time.Second

// Pool returns a static proxy when one is configured, otherwise rotates
// round-robin through a shuffled list downloaded on first use. A failed
// download is retried on a later call.
type Pool struct {
	static    string
	sourceURL string
	client    *resty.Client
	log       *slog.Logger
	backoff   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	proxies  []string
	lastTry  time.Time
	attempts int
	next     atomic.Uint64
}

func NewPool(static, sourceURL string, log *slog.Logger) *Pool {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")

	return &Pool{
		static:    Normalize(static),
		sourceURL: strings.TrimSpace(sourceURL),
		client:    client,
		log:       log,
		backoff:   reloadBackoff,
		now:       time.Now,
	}
}

// Next returns a proxy URL or "" when none is available.
func (p *Pool) Next(ctx context.Context) string {
	if p.static != "" {
		return p.static
	}
	if p.sourceURL == "" {
		return ""
	}

	p.mu.Lock()
	if len(p.proxies) == 0 && p.due() {
		p.load(ctx)
	}
	list := p.proxies
	p.mu.Unlock()

	if len(list) == 0 {
		return ""
	}
	i := p.next.Add(1) - 1
	return list[i%uint64(len(list))]
}

// Size reports how many proxies are loaded.
func (p *Pool) Size() int {
	if p.static != "" {
		return 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// due reports whether an empty pool may try another download. Callers hold mu.
func (p *Pool) due() bool {
	return p.attempts == 0 || p.now().Sub(p.lastTry) >= p.backoff
}

// load downloads the list. Callers hold mu. The pool stays empty on failure.
func (p *Pool) load(ctx context.Context) {
	p.attempts++
	p.lastTry = p.now()

	resp, err := p.client.R().SetContext(ctx).Get(p.sourceURL)
	if err != nil {
		p.log.Warn("proxy list download failed", "url", p.sourceURL, "attempt", p.attempts, "error", err)
		return
	}
	if resp.StatusCode() != 200 {
		p.log.Warn("proxy list download failed", "url", p.sourceURL, "attempt", p.attempts, "status", resp.StatusCode())
		return
	}

	list := ParseList(resp.String())
	if len(list) == 0 {
		p.log.Warn("proxy list is empty", "url", p.sourceURL)
		return
	}
	rand.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	p.proxies = list
	p.log.Info("proxy pool loaded", "count", len(list))
}

// ParseList reads one proxy per line, skipping blanks and # comments.
func ParseList(body string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, Normalize(line))
	}
	return out
}

// Normalize adds http:// to bare host:port entries.
func Normalize(proxy string) string {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return ""
	}
	if !strings.Contains(proxy, "://") {
		return "http://" + proxy
	}
	return proxy
}
