// Package fetcher downloads source payloads through an ordered chain of
// strategies, each retried with linear backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/deusflow/metalnews/internal/config"
	"github.com/deusflow/metalnews/internal/retry"
	"github.com/deusflow/metalnews/internal/textenc"
)

var (
	// ErrExhausted means every applicable strategy failed.
	ErrExhausted = errors.New("all fetch strategies failed")
	// ErrRateLimited means a strategy kept answering 429 until the attempt
	// ceiling; the chain stops there.
	ErrRateLimited = errors.New("rate limited")
)

const maxBodyBytes = 10 << 20

// Request is one attempt's input.
type Request struct {
	URL    string
	Proxy  string
	Source config.Source
}

// Response is the raw result of one attempt.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
}

// Strategy is a single fetch technique.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// ProxySource hands out a proxy URL per attempt; "" means none.
type ProxySource interface {
	Next(ctx context.Context) string
}

// StatusError is a non-2xx answer.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Payload is decoded text ready for extraction.
type Payload struct {
	Text     string
	Charset  string
	Status   int
	Strategy string
	Lossy    bool
}

type Options struct {
	Attempts       int
	Timeout        time.Duration
	RenderHeadless bool
	RenderTimeout  time.Duration
}

type Fetcher struct {
	chain   []Strategy
	render  Strategy
	proxies ProxySource
	policy  retry.Policy
	log     *slog.Logger
}

// New builds the default chain: direct, then browser-fingerprint bypass,
// then headless rendering for sources that ask for it.
func New(opts Options, proxies ProxySource, log *slog.Logger) *Fetcher {
	policy := retry.DefaultPolicy()
	if opts.Attempts > 0 {
		policy.MaxAttempts = opts.Attempts
	}
	chain := []Strategy{
		NewDirect(opts.Timeout),
		NewBypass(opts.Timeout),
	}
	render := NewRender(opts.RenderHeadless, opts.RenderTimeout)
	return NewWithStrategies(chain, render, proxies, policy, log)
}

func NewWithStrategies(chain []Strategy, render Strategy, proxies ProxySource, policy retry.Policy, log *slog.Logger) *Fetcher {
	return &Fetcher{
		chain:   chain,
		render:  render,
		proxies: proxies,
		policy:  policy,
		log:     log,
	}
}

// Fetch downloads the source's URL.
func (f *Fetcher) Fetch(ctx context.Context, src config.Source) (*Payload, error) {
	return f.fetch(ctx, src.URL, src)
}

// FetchURL downloads an arbitrary page with the same chain, used for
// article pages linked from a source.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string, src config.Source) (*Payload, error) {
	src.RequiresRendering = false
	return f.fetch(ctx, rawURL, src)
}

func (f *Fetcher) strategiesFor(src config.Source) []Strategy {
	out := append([]Strategy(nil), f.chain...)
	if src.RequiresRendering && f.render != nil {
		out = append(out, f.render)
	}
	return out
}

func (f *Fetcher) fetch(ctx context.Context, target string, src config.Source) (*Payload, error) {
	var failures []error

	for _, s := range f.strategiesFor(src) {
		log := f.log.With("source", src.Name, "strategy", s.Name())

		var resp *Response
		limited := 0
		res, attempts := retry.Do(ctx, f.policy, func(attempt int) retry.Result {
			req := Request{URL: target, Source: src}
			if src.RequiresProxy && f.proxies != nil {
				req.Proxy = f.proxies.Next(ctx)
			}

			r, err := s.Fetch(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Result{Outcome: retry.Abort, Err: ctx.Err()}
				}
				log.Debug("fetch attempt failed", "attempt", attempt+1, "proxy", req.Proxy != "", "error", err)
				return retry.Result{Outcome: retry.Retry, Err: err}
			}
			switch {
			case r.Status >= 200 && r.Status < 300:
				resp = r
				return retry.Result{Outcome: retry.Done}
			case r.Status == http.StatusTooManyRequests:
				limited++
				log.Debug("rate limited", "attempt", attempt+1)
				return retry.Result{Outcome: retry.RateLimited, Err: &StatusError{Code: r.Status}}
			default:
				log.Debug("fetch attempt rejected", "attempt", attempt+1, "status", r.Status)
				return retry.Result{Outcome: retry.Retry, Err: &StatusError{Code: r.Status}}
			}
		})

		switch res.Outcome {
		case retry.Done:
			decoded := textenc.Decode(resp.Body, charsetOf(resp.ContentType))
			log.Debug("fetched", "attempts", attempts, "bytes", len(resp.Body), "charset", decoded.Charset)
			return &Payload{
				Text:     decoded.Text,
				Charset:  decoded.Charset,
				Status:   resp.Status,
				Strategy: s.Name(),
				Lossy:    decoded.Lossy,
			}, nil
		case retry.RateLimited:
			// Only a strategy that saw nothing but 429s ends the chain.
			if limited == attempts {
				log.Warn("rate limit not lifted, giving up on source", "attempts", attempts)
				return nil, fmt.Errorf("%s: %w after %d attempts", s.Name(), ErrRateLimited, attempts)
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Info("strategy failed, trying next", "attempts", attempts, "error", res.Err)
		failures = append(failures, fmt.Errorf("%s: %w", s.Name(), res.Err))
	}

	return nil, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(failures...))
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
