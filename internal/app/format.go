package app

import (
	"html"
	"math/rand"
	"strings"

	"github.com/deusflow/metalnews/internal/news"
)

const maxPostBodyRunes = 500

var postEmoji = []string{"🏭", "⚙️", "🔥", "📊", "🌍", "💡"}

// Formatter renders an item as a Telegram HTML post.
type Formatter struct {
	readMore string
	pick     func(n int) int
}

func NewFormatter(readMoreLabel string) *Formatter {
	if readMoreLabel == "" {
		readMoreLabel = "Читать полностью"
	}
	return &Formatter{readMore: readMoreLabel, pick: rand.Intn}
}

func (f *Formatter) Format(item news.Item) string {
	var b strings.Builder
	b.WriteString(postEmoji[f.pick(len(postEmoji))])
	b.WriteString(" <b>")
	b.WriteString(html.EscapeString(item.Title))
	b.WriteString("</b>\n\n")
	if body := strings.TrimSpace(item.Body); body != "" {
		b.WriteString(html.EscapeString(shorten(body, maxPostBodyRunes)))
		b.WriteString("\n\n")
	}
	b.WriteString("<a href='")
	b.WriteString(html.EscapeString(item.Link))
	b.WriteString("'>")
	b.WriteString(html.EscapeString(f.readMore))
	b.WriteString("</a>")
	return b.String()
}

// shorten cuts s to at most n runes at the last word boundary and marks
// the cut with an ellipsis. The text is cut before escaping so entities
// are never split.
func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	cut := string(runes[:n])
	if i := strings.LastIndexAny(cut, " \n\t"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n\t,;:") + "..."
}
