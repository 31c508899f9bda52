// Package app wires collection, deduplication and publishing into cycles.
package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/deusflow/metalnews/internal/config"
	"github.com/deusflow/metalnews/internal/metrics"
	"github.com/deusflow/metalnews/internal/news"
)

// Store is the dedup record as the cycle sees it.
type Store interface {
	Recorder
	Load(ctx context.Context) error
	Len() int
}

// TextTranslator translates text to the configured language. It must
// return the input unchanged when it cannot translate.
type TextTranslator interface {
	Translate(ctx context.Context, text string) string
}

type Deps struct {
	Fetcher    Fetcher
	Store      Store
	Sender     Sender
	Translator TextTranslator // nil disables translation
	Sources    []config.Source
	Keywords   config.Keywords
	Metrics    *metrics.Metrics
	Log        *slog.Logger
}

type App struct {
	cfg        *config.Config
	sources    []config.Source
	store      Store
	collector  *Collector
	publisher  *Publisher
	translator TextTranslator
	metrics    *metrics.Metrics
	log        *slog.Logger
	entropy    *ulid.MonotonicEntropy
}

func New(cfg *config.Config, d Deps) *App {
	if d.Metrics == nil {
		d.Metrics = metrics.Global
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &App{
		cfg:       cfg,
		sources:   d.Sources,
		store:     d.Store,
		collector: NewCollector(d.Fetcher, d.Keywords, cfg.MaxNewsPerSource, cfg.FetchConcurrency, d.Metrics, d.Log),
		publisher: NewPublisher(d.Sender, d.Store, PublisherOptions{
			ChatID:       cfg.Destination(),
			Delay:        cfg.PublishDelay,
			FailureDelay: cfg.PublishFailureDelay,
			Timeout:      cfg.RequestTimeout,
			ReadMore:     cfg.ReadMoreLabel,
		}, d.Metrics, d.Log),
		translator: d.Translator,
		metrics:    d.Metrics,
		log:        d.Log,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
}

// Run executes a cycle right away and then keeps cycling until ctx is
// cancelled, either every CheckInterval or on the cron schedule.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.CycleSchedule != "" {
		return a.runScheduled(ctx)
	}
	for {
		a.cycle(ctx)
		select {
		case <-ctx.Done():
			a.log.Info("shutting down")
			return nil
		case <-time.After(a.cfg.CheckInterval):
		}
	}
}

func (a *App) runScheduled(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{a.log})))
	if _, err := c.AddFunc(a.cfg.CycleSchedule, func() { a.cycle(ctx) }); err != nil {
		return fmt.Errorf("invalid cycle schedule %q: %w", a.cfg.CycleSchedule, err)
	}

	a.cycle(ctx)
	if ctx.Err() != nil {
		return nil
	}
	c.Start()
	a.log.Info("cycle schedule started", "schedule", a.cfg.CycleSchedule)

	<-ctx.Done()
	a.log.Info("shutting down, waiting for the running cycle")
	<-c.Stop().Done()
	return nil
}

func (a *App) cycle(ctx context.Context) {
	if err := a.RunCycle(ctx); err != nil {
		a.log.Error("cycle failed", "error", err)
	}
}

// RunCycle performs one collect, dedup and publish pass. Only a failure
// to load the dedup record aborts it.
func (a *App) RunCycle(ctx context.Context) error {
	start := time.Now()
	runID := ulid.MustNew(ulid.Timestamp(start), a.entropy).String()
	log := a.log.With("cycle", runID)

	if err := a.store.Load(ctx); err != nil {
		a.metrics.SetError(err.Error())
		return fmt.Errorf("cycle %s: %w", runID, err)
	}
	log.Info("cycle started", "sources", len(a.sources), "known", a.store.Len())

	results := a.collector.Collect(ctx, a.sources)
	var merged []news.Item
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		merged = append(merged, r.Items...)
	}
	log.Info("collection finished", "items", len(merged), "failed_sources", failed)

	fresh, dups := a.gate(merged)
	a.metrics.AddDuplicatesFiltered(dups)
	if len(fresh) == 0 {
		log.Info("no new items", "duplicates", dups)
		a.finish(start)
		return nil
	}

	if ctx.Err() != nil {
		log.Info("shutdown requested, skipping publish", "new", len(fresh))
		return nil
	}
	if a.translator != nil {
		for i := range fresh {
			fresh[i].Title = a.translator.Translate(ctx, fresh[i].Title)
			if fresh[i].Body != "" {
				fresh[i].Body = a.translator.Translate(ctx, fresh[i].Body)
			}
		}
	}

	stats := a.publisher.Publish(ctx, fresh)
	log.Info("cycle finished",
		"new", len(fresh),
		"duplicates", dups,
		"sent", stats.Sent,
		"failed", stats.Failed,
		"record_failed", stats.RecordFailed,
		"took", time.Since(start).Round(time.Millisecond))
	a.finish(start)
	return nil
}

func (a *App) finish(start time.Time) {
	a.metrics.RecordCycleTime(time.Since(start))
	a.metrics.SetLastRun()
}

// gate drops items already in the record and repeats within the batch,
// keeping the first occurrence. Fingerprints come from the original link so
// translation never changes them.
func (a *App) gate(items []news.Item) ([]news.Item, int) {
	seen := make(map[string]struct{}, len(items))
	out := make([]news.Item, 0, len(items))
	dups := 0
	for _, it := range items {
		fp := it.Fingerprint()
		if _, ok := seen[fp]; ok || a.store.Contains(fp) {
			dups++
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, it)
	}
	return out, dups
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kv, "error", err)...)
}
