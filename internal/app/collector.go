package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/metalnews/internal/config"
	"github.com/deusflow/metalnews/internal/fetcher"
	"github.com/deusflow/metalnews/internal/metrics"
	"github.com/deusflow/metalnews/internal/news"
	"github.com/deusflow/metalnews/internal/rss"
	"github.com/deusflow/metalnews/internal/scraper"
)

const (
	// extractFactor over-extracts so the cap still fills after filtering.
	extractFactor     = 2
	minFullTextBody   = 200
	defaultConcurrent = 8
)

// Fetcher downloads a source or one of its article pages.
type Fetcher interface {
	Fetch(ctx context.Context, src config.Source) (*fetcher.Payload, error)
	FetchURL(ctx context.Context, rawURL string, src config.Source) (*fetcher.Payload, error)
}

// SourceResult is what one source produced in a cycle.
type SourceResult struct {
	Source    string
	Items     []news.Item
	Extracted int
	Relevant  int
	Strategy  string
	Err       error
}

type Collector struct {
	fetcher     Fetcher
	classifier  *news.Classifier
	canon       *news.Canonicalizer
	maxPerSrc   int
	concurrency int
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func NewCollector(f Fetcher, kw config.Keywords, maxPerSource, concurrency int, m *metrics.Metrics, log *slog.Logger) *Collector {
	if concurrency <= 0 {
		concurrency = defaultConcurrent
	}
	return &Collector{
		fetcher:     f,
		classifier:  news.NewClassifier(kw.Include, kw.Exclude),
		canon:       news.NewCanonicalizer(kw.CategoryPrefixes),
		maxPerSrc:   maxPerSource,
		concurrency: concurrency,
		metrics:     m,
		log:         log,
	}
}

// Collect runs every source concurrently and returns the results in
// configuration order. A failing or panicking source never affects the
// others.
func (c *Collector) Collect(ctx context.Context, sources []config.Source) []SourceResult {
	results := make([]SourceResult, len(sources))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = SourceResult{Source: src.Name, Err: fmt.Errorf("panic: %v", r)}
					c.log.Error("source task panicked", "source", src.Name, "panic", r)
				}
			}()
			results[i] = c.collectOne(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		c.report(r)
	}
	return results
}

func (c *Collector) collectOne(ctx context.Context, src config.Source) SourceResult {
	res := SourceResult{Source: src.Name}
	limit := src.Cap(c.maxPerSrc)

	payload, err := c.fetcher.Fetch(ctx, src)
	if err != nil {
		res.Err = err
		return res
	}
	res.Strategy = payload.Strategy
	if payload.Lossy {
		c.log.Warn("decoded with replacement characters", "source", src.Name, "charset", payload.Charset)
	}

	raw, err := c.extract(payload.Text, src, limit*extractFactor)
	if err != nil {
		res.Err = err
		return res
	}
	res.Extracted = len(raw)

	for _, item := range raw {
		if len(res.Items) >= limit {
			break
		}
		if !src.AlwaysInclude && !c.classifier.Relevant(item.Text()) {
			continue
		}
		res.Relevant++
		if src.FullText && utf8.RuneCountInString(item.Body) < minFullTextBody {
			item.Body = c.fullText(ctx, item, src)
		}
		item.Title = c.canon.Title(item.Title)
		item.Body = c.canon.Body(item.Body, item.Title)
		if !item.Valid() {
			continue
		}
		res.Items = append(res.Items, item)
	}
	return res
}

func (c *Collector) extract(text string, src config.Source, limit int) ([]news.Item, error) {
	if src.Kind == config.KindPage {
		return scraper.Extract(text, src, limit)
	}
	res, err := rss.Extract(text, src, limit)
	for _, w := range res.Warnings {
		c.log.Warn("feed parse stage failed", "source", src.Name, "detail", w)
	}
	return res.Items, err
}

// fullText replaces a short body with the article's readable text. Any
// failure keeps the body it was given.
func (c *Collector) fullText(ctx context.Context, item news.Item, src config.Source) string {
	page, err := c.fetcher.FetchURL(ctx, item.Link, src)
	if err != nil {
		c.log.Debug("article fetch failed", "source", src.Name, "link", item.Link, "error", err)
		return item.Body
	}
	text, err := scraper.FullText(page.Text, item.Link)
	if err != nil {
		c.log.Debug("article extraction failed", "source", src.Name, "link", item.Link, "error", err)
		return item.Body
	}
	return text
}

func (c *Collector) report(r SourceResult) {
	stats := metrics.SourceStats{
		OK:        r.Err == nil,
		Strategy:  r.Strategy,
		Extracted: r.Extracted,
		Relevant:  r.Relevant,
		At:        time.Now(),
	}
	if r.Err != nil {
		stats.Error = r.Err.Error()
		c.log.Error("source failed", "source", r.Source, "error", r.Err)
	}
	c.metrics.RecordSource(r.Source, stats)
	if r.Err != nil {
		return
	}

	var sample []string
	for i := 0; i < len(r.Items) && i < 2; i++ {
		sample = append(sample, r.Items[i].Title)
	}
	c.log.Info("source collected",
		"source", r.Source,
		"strategy", r.Strategy,
		"extracted", r.Extracted,
		"relevant", r.Relevant,
		"kept", len(r.Items),
		"sample", sample)
	if r.Extracted > 0 && r.Relevant == 0 {
		c.log.Warn("no relevant items", "source", r.Source, "extracted", r.Extracted)
	}
}
