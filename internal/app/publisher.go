package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/deusflow/metalnews/internal/metrics"
	"github.com/deusflow/metalnews/internal/news"
	"github.com/deusflow/metalnews/internal/retry"
	"github.com/deusflow/metalnews/internal/storage"
)

const defaultDeliverTimeout = 30 * time.Second

// Sender delivers one formatted post.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string, preview bool) error
}

// Recorder is the dedup record the publisher consults and extends.
type Recorder interface {
	Contains(fingerprint string) bool
	Record(ctx context.Context, e storage.Entry) error
}

type PublishStats struct {
	Sent         int
	Failed       int
	Skipped      int
	RecordFailed int
}

type Publisher struct {
	sender       Sender
	recorder     Recorder
	format       *Formatter
	chatID       string
	delay        time.Duration
	failureDelay time.Duration
	timeout      time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	metrics      *metrics.Metrics
	log          *slog.Logger
}

type PublisherOptions struct {
	ChatID       string
	Delay        time.Duration
	FailureDelay time.Duration
	Timeout      time.Duration
	ReadMore     string
}

func NewPublisher(s Sender, r Recorder, opts PublisherOptions, m *metrics.Metrics, log *slog.Logger) *Publisher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDeliverTimeout
	}
	return &Publisher{
		sender:       s,
		recorder:     r,
		format:       NewFormatter(opts.ReadMore),
		chatID:       opts.ChatID,
		delay:        opts.Delay,
		failureDelay: opts.FailureDelay,
		timeout:      opts.Timeout,
		sleep:        retry.Sleep,
		metrics:      m,
		log:          log,
	}
}

// Publish delivers items one at a time in order. An item is recorded only
// after it was delivered. Once ctx is cancelled no further item starts; an
// item already being delivered is finished first.
func (p *Publisher) Publish(ctx context.Context, items []news.Item) PublishStats {
	var stats PublishStats
	for i, item := range items {
		if ctx.Err() != nil {
			p.log.Info("shutdown requested, stopping publish", "remaining", len(items)-i)
			break
		}
		fp := item.Fingerprint()
		if p.recorder.Contains(fp) {
			stats.Skipped++
			continue
		}

		wait := p.delay
		if err := p.deliver(ctx, item); err != nil {
			stats.Failed++
			p.metrics.IncPublishFailures()
			p.log.Error("publish failed", "source", item.Source, "link", item.Link, "error", err)
			wait = p.failureDelay
		} else {
			stats.Sent++
			p.metrics.IncMessagesSent()
			p.log.Info("published", "source", item.Source, "title", item.Title)
			if err := p.record(ctx, item, fp); err != nil {
				stats.RecordFailed++
				p.metrics.IncRecordFailures()
				p.log.Error("failed to record delivered item", "link", item.Link, "error", err)
			}
		}

		if i == len(items)-1 {
			break
		}
		if err := p.sleep(ctx, wait); err != nil {
			p.log.Info("shutdown requested during pacing", "remaining", len(items)-i-1)
			break
		}
	}
	return stats
}

func (p *Publisher) deliver(ctx context.Context, item news.Item) error {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	return p.sender.SendMessage(dctx, p.chatID, p.format.Format(item), true)
}

func (p *Publisher) record(ctx context.Context, item news.Item, fp string) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	return p.recorder.Record(rctx, storage.Entry{
		Fingerprint: fp,
		Link:        item.Link,
		Title:       item.Title,
		Source:      item.Source,
	})
}
