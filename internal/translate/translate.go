// Package translate turns item text into the channel language on a best
// effort basis.
package translate

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"

	"github.com/deusflow/metalnews/internal/cache"
	"github.com/deusflow/metalnews/internal/metrics"
	"github.com/deusflow/metalnews/internal/ratelimit"
)

const (
	// MaxRunes is the longest text sent to a provider.
	MaxRunes = 4500

	minDetectRunes = 3
	geminiProvider = "gemini"
	cacheTTL       = 24 * time.Hour
)

// sourceLangs limits detection to languages the feeds actually publish in.
// Without it short Russian text often scores closer to Serbian or Bulgarian.
var sourceLangs = whatlanggo.Options{Whitelist: map[whatlanggo.Lang]bool{
	whatlanggo.Rus: true,
	whatlanggo.Ukr: true,
	whatlanggo.Bel: true,
	whatlanggo.Eng: true,
	whatlanggo.Deu: true,
	whatlanggo.Fra: true,
	whatlanggo.Spa: true,
	whatlanggo.Ita: true,
	whatlanggo.Pol: true,
	whatlanggo.Por: true,
	whatlanggo.Tur: true,
	whatlanggo.Cmn: true,
}}

// Translator is one translation provider.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Service detects the language of a text and translates it to the target
// language with Google first and Gemini second. Failures return the input.
type Service struct {
	target  string
	google  Translator
	gemini  Translator
	budget  *ratelimit.Budget
	cache   *cache.Cache[string]
	timeout time.Duration
	log     *slog.Logger
}

type Options struct {
	Target  string
	Google  Translator
	Gemini  Translator // optional
	Budget  *ratelimit.Budget
	Timeout time.Duration
}

func NewService(opts Options, log *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Budget == nil {
		opts.Budget = ratelimit.NewBudget(nil, 0, log)
	}
	return &Service{
		target:  opts.Target,
		google:  opts.Google,
		gemini:  opts.Gemini,
		budget:  opts.Budget,
		cache:   cache.New[string](cacheTTL, time.Hour),
		timeout: opts.Timeout,
		log:     log,
	}
}

// Detect returns the ISO 639-1 code of text, or "" when it cannot tell
// reliably.
func Detect(text string) string {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minDetectRunes {
		return ""
	}
	info := whatlanggo.DetectWithOptions(text, sourceLangs)
	if info.Lang < 0 || !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// Translate returns text in the target language, or text unchanged when it
// already is, the language is unknown, or every provider failed.
func (s *Service) Translate(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	lang := Detect(text)
	if lang == "" || lang == s.target {
		return text
	}

	input := truncate(text, MaxRunes)
	key := cache.Key(s.target, input)
	if cached, ok := s.cache.Get(key); ok {
		s.budget.RecordCacheHit()
		return cached
	}

	if out, ok := s.try(ctx, "google", s.google, input, lang); ok {
		s.cache.Set(key, out)
		return out
	}
	if s.gemini != nil && s.budget.Allow(geminiProvider) {
		if err := s.budget.Use(geminiProvider); err == nil {
			if out, ok := s.try(ctx, geminiProvider, s.gemini, input, lang); ok {
				s.cache.Set(key, out)
				return out
			}
		}
	}

	s.log.Warn("all translation providers failed, keeping original", "lang", lang)
	metrics.Global.IncTranslationFailures()
	return text
}

func (s *Service) try(ctx context.Context, name string, t Translator, text, from string) (string, bool) {
	if t == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := t.Translate(ctx, text, from, s.target)
	if err != nil {
		s.log.Warn("translation failed", "provider", name, "from", from, "to", s.target, "error", err)
		return "", false
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", false
	}
	metrics.Global.IncTranslations()
	s.log.Debug("translated", "provider", name, "from", from, "to", s.target)
	return out, true
}

// Budget exposes the provider budget for monitoring.
func (s *Service) Budget() *ratelimit.Budget { return s.budget }

func (s *Service) Close() {
	s.cache.Close()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
