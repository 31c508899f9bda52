package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// maxIdleWait bounds how long Render waits for the network to go quiet.
const maxIdleWait = 15 * time.Second

// Render loads the page in headless Chrome and returns the DOM after the
// network went idle and the source's settle delay passed.
type Render struct {
	headless bool
	timeout  time.Duration
}

func NewRender(headless bool, timeout time.Duration) *Render {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Render{headless: headless, timeout: timeout}
}

func (r *Render) Name() string { return "render" }

func (r *Render) Fetch(ctx context.Context, req Request) (*Response, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.headless),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(userAgent),
	)
	if req.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(req.Proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	settle := req.Source.Settle()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout+settle)
	defer cancelTimeout()

	var mu sync.Mutex
	idle := false
	chromedp.ListenTarget(tabCtx, func(ev any) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch e.Name {
		case "init":
			idle = false
		case "networkIdle":
			idle = true
		}
	})
	isIdle := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return idle
	}

	var html string
	err := chromedp.Run(tabCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(req.URL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitIdle(ctx, isIdle, maxIdleWait)
		}),
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:      200,
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
	}, nil
}

// waitIdle polls until idle reports true. Pages that never settle are
// taken as they are once limit has passed.
func waitIdle(ctx context.Context, idle func() bool, limit time.Duration) error {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-tick.C:
		}
	}
}
