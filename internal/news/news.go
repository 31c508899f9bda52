package news

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MinTitleRunes is the shortest title an extractor may emit.
const MinTitleRunes = 3

// Item is a candidate piece of content pulled from a source.
type Item struct {
	Title  string
	Body   string
	Link   string
	Source string
}

// Valid reports whether the item satisfies the extraction contract:
// a trimmed title of at least three runes and an absolute http(s) link.
func (i Item) Valid() bool {
	if utf8.RuneCountInString(strings.TrimSpace(i.Title)) < MinTitleRunes {
		return false
	}
	return IsAbsoluteURL(i.Link)
}

// Fingerprint returns the dedup key for the item's link.
func (i Item) Fingerprint() string {
	return Fingerprint(i.Link)
}

// Text is the combined title and body used for relevance checks.
func (i Item) Text() string {
	if i.Body == "" {
		return i.Title
	}
	return i.Title + " " + i.Body
}

// Fingerprint is the lowercase hex SHA-256 of the trimmed link.
func Fingerprint(link string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(link)))
	return hex.EncodeToString(sum[:])
}

func IsAbsoluteURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ResolveLink resolves href against base. It returns "" when the result is
// not an absolute http(s) URL.
func ResolveLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !ref.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return ""
		}
		ref = b.ResolveReference(ref)
	}
	out := ref.String()
	if !IsAbsoluteURL(out) {
		return ""
	}
	return out
}
