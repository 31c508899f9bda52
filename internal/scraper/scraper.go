package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/deusflow/metalnews/internal/config"
	"github.com/deusflow/metalnews/internal/news"
)

const (
	minBodyRunes     = 20
	maxBodyWords     = 50
	minInlineRunes   = 10
	maxInlineRunes   = 300
	headingSelectors = `h1, h2, h3, h4, h5, .title, [class*="title"], [class*="heading"]`
	inlineSelectors  = "strong, b, p, span, div"
)

// genericContainers are tried in order when the source's own container
// selector matches nothing.
var genericContainers = []string{
	"article",
	".article",
	".news",
	".news-item",
	".press-release",
	".post",
	".entry",
	`[class*="news"]`,
	`[class*="article"]`,
}

// Extract parses an HTML listing page into items using the source's
// selectors. At most limit containers are examined, in document order.
func Extract(text string, src config.Source, limit int) ([]news.Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	containers := findContainers(doc, src.Selectors.Container)
	if limit > 0 && containers.Length() > limit {
		containers = containers.Slice(0, limit)
	}

	var items []news.Item
	containers.Each(func(_ int, s *goquery.Selection) {
		if item, ok := extractItem(s, src); ok {
			items = append(items, item)
		}
	})
	return items, nil
}

func findContainers(doc *goquery.Document, primary string) *goquery.Selection {
	if primary != "" {
		if found := doc.Find(primary); found.Length() > 0 {
			return found
		}
	}
	for _, sel := range genericContainers {
		if found := doc.Find(sel); found.Length() > 0 {
			return found
		}
	}
	return doc.Selection.Slice(0, 0)
}

func extractItem(s *goquery.Selection, src config.Source) (news.Item, bool) {
	title, titleEl := findTitle(s, src.Selectors)
	item := news.Item{
		Title:  title,
		Link:   findLink(s, src, titleEl),
		Source: src.Name,
	}
	if !item.Valid() {
		return news.Item{}, false
	}
	item.Body = findBody(s, src.Selectors, item.Title)
	return item, true
}

// titleFunc returns a candidate title and the element it came from.
type titleFunc func(s *goquery.Selection, sel config.Selectors) (string, *goquery.Selection)

var titleChain = []titleFunc{
	titleFromSelector,
	titleFromHeading,
	titleFromLink,
	titleFromInline,
}

func findTitle(s *goquery.Selection, sel config.Selectors) (string, *goquery.Selection) {
	for _, fn := range titleChain {
		if t, el := fn(s, sel); utf8.RuneCountInString(t) >= news.MinTitleRunes {
			return t, el
		}
	}
	return "", nil
}

func titleFromSelector(s *goquery.Selection, sel config.Selectors) (string, *goquery.Selection) {
	if sel.Title == "" {
		return "", nil
	}
	el := s.Find(sel.Title).First()
	if el.Length() == 0 {
		return "", nil
	}
	return textOrTitleAttr(el), el
}

func titleFromHeading(s *goquery.Selection, _ config.Selectors) (string, *goquery.Selection) {
	el := s.Find(headingSelectors).First()
	return collapse(el.Text()), el
}

func titleFromLink(s *goquery.Selection, sel config.Selectors) (string, *goquery.Selection) {
	el := linkElement(s, sel)
	if el.Length() == 0 {
		return "", nil
	}
	return textOrTitleAttr(el), el
}

func titleFromInline(s *goquery.Selection, _ config.Selectors) (string, *goquery.Selection) {
	var title string
	var found *goquery.Selection
	s.Find(inlineSelectors).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		t := collapse(el.Text())
		if n := utf8.RuneCountInString(t); n > minInlineRunes && n < maxInlineRunes {
			title, found = t, el
			return false
		}
		return true
	})
	return title, found
}

func linkElement(s *goquery.Selection, sel config.Selectors) *goquery.Selection {
	if sel.Link != "" {
		if el := s.Find(sel.Link).First(); el.Length() > 0 {
			return el
		}
	}
	return s.Find("a[href]").First()
}

func textOrTitleAttr(el *goquery.Selection) string {
	if t := collapse(el.Text()); t != "" {
		return t
	}
	attr, _ := el.Attr("title")
	return collapse(attr)
}

// findLink prefers the link selector, then the title element when it is an
// anchor, then any link inside the container.
func findLink(s *goquery.Selection, src config.Source, titleEl *goquery.Selection) string {
	var candidates []*goquery.Selection
	if src.Selectors.Link != "" {
		candidates = append(candidates, s.Find(src.Selectors.Link).First())
	}
	if titleEl != nil && goquery.NodeName(titleEl) == "a" {
		candidates = append(candidates, titleEl)
	}
	candidates = append(candidates, s.Find("a[href]").First(), s)

	for _, el := range candidates {
		href, ok := el.Attr("href")
		if !ok {
			continue
		}
		if link := news.ResolveLink(src.URL, href); link != "" {
			return link
		}
	}
	return ""
}

func findBody(s *goquery.Selection, sel config.Selectors, title string) string {
	if sel.Description != "" {
		desc := collapse(spacedText(s.Find(sel.Description).First()))
		if utf8.RuneCountInString(desc) >= minBodyRunes {
			return desc
		}
	}

	words := strings.Fields(spacedText(s))
	words = dropLeading(words, strings.Fields(title))
	return capWords(words, maxBodyWords)
}

// dropLeading removes the words at the start of words that repeat prefix.
func dropLeading(words, prefix []string) []string {
	i := 0
	for i < len(words) && i < len(prefix) && sameWord(words[i], prefix[i]) {
		i++
	}
	return words[i:]
}

func sameWord(a, b string) bool {
	trim := func(s string) string {
		return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
	}
	return trim(a) == trim(b)
}

func capWords(words []string, n int) string {
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// spacedText joins the text nodes under sel with spaces, so adjacent block
// elements do not run their words together.
func spacedText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*nethtml.Node)
	walk = func(n *nethtml.Node) {
		switch n.Type {
		case nethtml.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case nethtml.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}

// FullText extracts the readable article text of an article page, capped
// at the body word limit.
func FullText(page, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(page), u)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}
	text := capWords(strings.Fields(article.TextContent), maxBodyWords)
	if text == "" {
		return "", errors.New("no readable content")
	}
	return text, nil
}
