package rss

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	nethtml "golang.org/x/net/html"

	"github.com/deusflow/metalnews/internal/config"
	"github.com/deusflow/metalnews/internal/news"
	"github.com/deusflow/metalnews/internal/textenc"
)

// ErrUnparseable means no parse stage recovered a single entry.
var ErrUnparseable = errors.New("feed could not be parsed")

// Result is what a feed yielded. Warnings list the parse stages that failed
// before one succeeded.
type Result struct {
	Items    []news.Item
	Warnings []string
	Scanned  int
}

type entry struct {
	title       string
	link        string
	description string
	content     string
}

type stage struct {
	name  string
	parse func(string) ([]entry, error)
}

var stages = []stage{
	{"strict", parseStrict},
	{"sanitized", parseSanitized},
	{"lenient", parseLenient},
}

// Extract parses feed text into at most limit valid items in feed order.
// A feed that parses cleanly with no entries is empty, not an error.
func Extract(text string, src config.Source, limit int) (Result, error) {
	repaired := textenc.RepairFeed(text)

	var res Result
	for _, st := range stages {
		entries, err := st.parse(repaired)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", st.name, err))
			continue
		}
		if len(entries) == 0 && len(res.Warnings) > 0 {
			res.Warnings = append(res.Warnings, st.name+": no entries")
			continue
		}
		res.Scanned = len(entries)
		res.Items = toItems(entries, src, limit)
		return res, nil
	}
	return res, fmt.Errorf("%w: %s", ErrUnparseable, strings.Join(res.Warnings, "; "))
}

func toItems(entries []entry, src config.Source, limit int) []news.Item {
	var items []news.Item
	for _, e := range entries {
		if limit > 0 && len(items) >= limit {
			break
		}
		item := news.Item{
			Title:  plainText(e.title),
			Link:   news.ResolveLink(src.URL, e.link),
			Source: src.Name,
		}
		if !item.Valid() {
			continue
		}
		item.Body = plainText(e.description)
		if item.Body == "" {
			item.Body = plainText(e.content)
		}
		items = append(items, item)
	}
	return items
}

func parseStrict(text string) ([]entry, error) {
	feed, err := gofeed.NewParser().ParseString(text)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		link := it.Link
		if link == "" && len(it.Links) > 0 {
			link = it.Links[0]
		}
		entries = append(entries, entry{
			title:       it.Title,
			link:        link,
			description: it.Description,
			content:     it.Content,
		})
	}
	return entries, nil
}

var illegalXMLChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x{FFFE}\x{FFFF}]`)

// parseSanitized retries after dropping control characters XML forbids and
// any junk before the first tag.
func parseSanitized(text string) ([]entry, error) {
	cleaned := illegalXMLChars.ReplaceAllString(text, "")
	if i := strings.Index(cleaned, "<"); i > 0 {
		cleaned = cleaned[i:]
	}
	if cleaned == text {
		return nil, errors.New("nothing to sanitize")
	}
	return parseStrict(cleaned)
}

var cdata = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)

// parseLenient scans <item> and <entry> elements with an HTML parser, which
// accepts nearly anything.
func parseLenient(text string) ([]entry, error) {
	text = cdata.ReplaceAllStringFunc(text, func(m string) string {
		inner := cdata.FindStringSubmatch(m)[1]
		return html.EscapeString(inner)
	})
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, err
	}

	var entries []entry
	doc.Find("item, entry").Each(func(_ int, s *goquery.Selection) {
		e := entry{
			title:       s.ChildrenFiltered("title").First().Text(),
			link:        lenientLink(s),
			description: firstText(s, "description", "summary"),
			content:     firstText(s, "content\\:encoded", "content"),
		}
		entries = append(entries, e)
	})
	return entries, nil
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(s.ChildrenFiltered(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// lenientLink handles both Atom <link href> and RSS <link>url</link>; the
// HTML parser treats <link> as void, so the URL ends up in the next text
// node.
func lenientLink(s *goquery.Selection) string {
	links := s.ChildrenFiltered("link")
	for i := range links.Nodes {
		l := links.Eq(i)
		if href, ok := l.Attr("href"); ok && strings.TrimSpace(href) != "" {
			rel, _ := l.Attr("rel")
			if rel == "" || rel == "alternate" {
				return strings.TrimSpace(href)
			}
			continue
		}
		if t := strings.TrimSpace(l.Text()); t != "" {
			return t
		}
		if next := l.Nodes[0].NextSibling; next != nil && next.Type == nethtml.TextNode {
			if t := strings.TrimSpace(next.Data); t != "" {
				return t
			}
		}
	}
	if guid := strings.TrimSpace(s.ChildrenFiltered("guid").First().Text()); news.IsAbsoluteURL(guid) {
		return guid
	}
	return ""
}
