package metrics

import (
	"sort"
	"sync"
	"time"
)

// SourceStats is the outcome of a source's most recent fetch.
type SourceStats struct {
	OK        bool
	Strategy  string
	Extracted int
	Relevant  int
	Error     string
	At        time.Time
}

type Metrics struct {
	mu sync.RWMutex

	// Counters
	SourcesOK           int64
	SourcesFailed       int64
	ItemsExtracted      int64
	ItemsRelevant       int64
	DuplicatesFiltered  int64
	MessagesSent        int64
	PublishFailures     int64
	RecordFailures      int64
	Translations        int64
	TranslationFailures int64
	Cycles              int64

	// Timings
	LastCycleTime    time.Duration
	AverageCycleTime time.Duration
	TotalCycleTime   time.Duration

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool

	sources map[string]SourceStats
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true, sources: make(map[string]SourceStats)}
}

func (m *Metrics) add(field *int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field += int64(n)
}

// RecordSource stores a source outcome and bumps the matching counters.
func (m *Metrics) RecordSource(name string, s SourceStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.At.IsZero() {
		s.At = time.Now()
	}
	m.sources[name] = s
	if s.OK {
		m.SourcesOK++
	} else {
		m.SourcesFailed++
	}
	m.ItemsExtracted += int64(s.Extracted)
	m.ItemsRelevant += int64(s.Relevant)
}

func (m *Metrics) AddDuplicatesFiltered(n int) { m.add(&m.DuplicatesFiltered, n) }
func (m *Metrics) IncMessagesSent()            { m.add(&m.MessagesSent, 1) }
func (m *Metrics) IncPublishFailures()         { m.add(&m.PublishFailures, 1) }
func (m *Metrics) IncRecordFailures()          { m.add(&m.RecordFailures, 1) }
func (m *Metrics) IncTranslations()            { m.add(&m.Translations, 1) }
func (m *Metrics) IncTranslationFailures()     { m.add(&m.TranslationFailures, 1) }

func (m *Metrics) RecordCycleTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastCycleTime = d
	m.TotalCycleTime += d
	m.Cycles++
	m.AverageCycleTime = m.TotalCycleTime / time.Duration(m.Cycles)
}

// SetLastRun marks a completed cycle and clears the unhealthy flag.
func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) Source(name string) (SourceStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[name]
	return s, ok
}

func (m *Metrics) GetStats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	sources := make([]map[string]any, 0, len(names))
	for _, name := range names {
		s := m.sources[name]
		sources = append(sources, map[string]any{
			"name":      name,
			"ok":        s.OK,
			"strategy":  s.Strategy,
			"extracted": s.Extracted,
			"relevant":  s.Relevant,
			"error":     s.Error,
			"at":        s.At.Format(time.RFC3339),
		})
	}

	return map[string]any{
		"sources_ok":              m.SourcesOK,
		"sources_failed":          m.SourcesFailed,
		"items_extracted":         m.ItemsExtracted,
		"items_relevant":          m.ItemsRelevant,
		"duplicates_filtered":     m.DuplicatesFiltered,
		"telegram_messages_sent":  m.MessagesSent,
		"publish_failures":        m.PublishFailures,
		"record_failures":         m.RecordFailures,
		"successful_translations": m.Translations,
		"failed_translations":     m.TranslationFailures,
		"cycles":                  m.Cycles,
		"last_cycle_time_ms":      m.LastCycleTime.Milliseconds(),
		"average_cycle_time_ms":   m.AverageCycleTime.Milliseconds(),
		"last_run_time":           m.LastRunTime.Format(time.RFC3339),
		"last_error_time":         m.LastErrorTime.Format(time.RFC3339),
		"last_error":              m.LastError,
		"is_healthy":              m.IsHealthy,
		"sources":                 sources,
	}
}
