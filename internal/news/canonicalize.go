package news

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	ruMonths = `(?:январ[ья]|феврал[ья]|март[а]?|апрел[ья]|ма[йя]|июн[ья]|июл[ья]|август[а]?|сентябр[ья]|октябр[ья]|ноябр[ья]|декабр[ья])`
	enMonths = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`
	dateTail = `[\s,.:|–-]*`
)

// DefaultCategoryPrefixes are section labels some press pages put in front
// of a headline, e.g. "Продукция / ...".
var DefaultCategoryPrefixes = []string{
	"Продукция", "Технология", "Устойчивое развитие", "Совместная работа",
	"IR", "Уведомление", "О принятии",
}

var (
	leadingDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\d{1,2}\s+` + ruMonths + `\s+\d{4}(?:\s*(?:г\.|года?))?` + dateTail),
		regexp.MustCompile(`(?i)^\d{1,2}\s+` + enMonths + `\.?,?\s+\d{4}` + dateTail),
		regexp.MustCompile(`(?i)^` + enMonths + `\.?\s+\d{1,2},?\s+\d{4}` + dateTail),
		regexp.MustCompile(`^\d{1,2}[./]\d{1,2}[./]\d{2,4}` + dateTail),
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?)?` + dateTail),
		regexp.MustCompile(`(?i)^\d{4}\s*(?:г\.|года?)` + dateTail),
	}

	technicalSuffix = regexp.MustCompile(`(?i)\s*[\[(](?:PDF|DOCX?|XLSX?|PPTX?)[^\])]*[\])]\s*$`)
	spaces          = regexp.MustCompile(`\s+`)
	markupTag       = regexp.MustCompile(`<[^>]+>`)
	nonWordChars    = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// Canonicalizer strips dates, section labels and repeated headlines from
// titles and bodies.
type Canonicalizer struct {
	category *regexp.Regexp
}

func NewCanonicalizer(categoryPrefixes []string) *Canonicalizer {
	c := &Canonicalizer{}
	var quoted []string
	for _, p := range categoryPrefixes {
		p = strings.TrimSpace(p)
		if p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	if len(quoted) > 0 {
		c.category = regexp.MustCompile(`(?i)^(?:` + strings.Join(quoted, "|") + `)\s*[/|]\s*`)
	}
	return c
}

// Title cleans a headline. Cleanup runs to a fixpoint so Title(Title(s)) ==
// Title(s). A result shorter than three runes reverts to the input.
func (c *Canonicalizer) Title(title string) string {
	original := collapse(title)
	current := original
	for i := 0; i < 64; i++ {
		next := c.titleStep(current)
		if next == current {
			break
		}
		current = next
	}
	if utf8.RuneCountInString(current) < MinTitleRunes {
		return original
	}
	return current
}

func (c *Canonicalizer) titleStep(s string) string {
	s, datedHead := stripLeadingDate(s)
	s = c.stripCategory(s)
	s = technicalSuffix.ReplaceAllString(s, "")
	s = collapse(s)
	if datedHead {
		s = headlineAfterLabel(s)
	}
	return s
}

// headlineAfterLabel drops a short label such as "Пресс-релиз." that
// follows a stripped date when a real headline comes after it.
func headlineAfterLabel(s string) string {
	idx := strings.Index(s, ". ")
	if idx <= 0 {
		return s
	}
	label := s[:idx]
	rest := strings.TrimSpace(s[idx+2:])
	if len(strings.Fields(label)) > 2 || utf8.RuneCountInString(rest) <= 10 {
		return s
	}
	return rest
}

// Body strips markup, removes every leading repetition of the title and
// leading date or category labels.
func (c *Canonicalizer) Body(body, title string) string {
	body = markupTag.ReplaceAllString(body, " ")
	body = collapse(body)
	body = dropTitlePrefix(body, title)
	for i := 0; i < 8; i++ {
		next, _ := stripLeadingDate(body)
		next = collapse(c.stripCategory(next))
		if next == body {
			break
		}
		body = next
	}
	return body
}

func (c *Canonicalizer) stripCategory(s string) string {
	if c.category == nil {
		return s
	}
	return c.category.ReplaceAllString(s, "")
}

func stripLeadingDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, re := range leadingDatePatterns {
		if loc := re.FindStringIndex(s); loc != nil && loc[1] > 0 {
			return s[loc[1]:], true
		}
	}
	return s, false
}

// dropTitlePrefix removes the title from the start of body as long as at
// least three consecutive normalized words match and something remains.
func dropTitlePrefix(body, title string) string {
	titleWords := normalizedWords(title)
	if len(titleWords) < 3 {
		return body
	}
	for {
		words := strings.Fields(body)
		n := 0
		for n < len(titleWords) && n < len(words) && normalizeWord(words[n]) == titleWords[n] {
			n++
		}
		if n < 3 || n >= len(words) {
			return body
		}
		body = strings.Join(words[n:], " ")
	}
}

func normalizedWords(s string) []string {
	return strings.Fields(strings.ToLower(nonWordChars.ReplaceAllString(s, "")))
}

func normalizeWord(w string) string {
	return strings.ToLower(nonWordChars.ReplaceAllString(w, ""))
}

func collapse(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
