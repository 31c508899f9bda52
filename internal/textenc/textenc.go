// Package textenc turns fetched bytes into UTF-8 text.
package textenc

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Result is decoded text plus the charset that produced it.
type Result struct {
	Text    string
	Charset string
	// Lossy is set when invalid sequences were dropped.
	Lossy bool
}

var aliases = map[string]string{
	"windows1251":  "windows-1251",
	"win1251":      "windows-1251",
	"win-1251":     "windows-1251",
	"cp1251":       "windows-1251",
	"cp-1251":      "windows-1251",
	"x-cp1251":     "windows-1251",
	"latin1":       "iso-8859-1",
	"latin-1":      "iso-8859-1",
	"iso8859-1":    "iso-8859-1",
	"iso_8859-1":   "iso-8859-1",
	"iso-8859-1":   "iso-8859-1",
	"l1":           "iso-8859-1",
	"utf8":         "utf-8",
	"utf-8":        "utf-8",
	"us-ascii":     "ascii",
	"ascii":        "ascii",
	"windows-1251": "windows-1251",
	"utf-16":       "utf-16",
	"utf-16le":     "utf-16le",
	"utf-16be":     "utf-16be",
}

var supported = map[string]encoding.Encoding{
	"utf-8":        unicode.UTF8,
	"ascii":        unicode.UTF8,
	"windows-1251": charmap.Windows1251,
	"iso-8859-1":   charmap.ISO8859_1,
	"utf-16":       unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16le":     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16be":     unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

// Fallbacks tried in order when the resolved charset is not supported.
var Fallbacks = []string{"utf-8", "windows-1251", "iso-8859-1"}

// Normalize maps a charset label to its canonical name.
func Normalize(label string) string {
	label = strings.ToLower(strings.TrimSpace(strings.Trim(label, `"'`)))
	if label == "" {
		return ""
	}
	if canon, ok := aliases[label]; ok {
		return canon
	}
	// WHATWG label table knows most of the rest.
	if _, name := charset.Lookup(label); name != "" {
		if canon, ok := aliases[strings.ToLower(name)]; ok {
			return canon
		}
		return strings.ToLower(name)
	}
	return label
}

// Detect guesses the charset of raw with a statistical detector.
func Detect(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) {
		return "utf-8"
	}
	if bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) || bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) {
		return "utf-16"
	}
	if utf8.Valid(raw) {
		return "utf-8"
	}
	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || res == nil {
		return ""
	}
	return Normalize(res.Charset)
}

var (
	xmlDeclCharset = regexp.MustCompile(`(?i)<\?xml[^>]*?encoding\s*=\s*["']([^"']+)["']`)
	metaTagCharset = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?([a-zA-Z0-9_-]+)`)
)

// Sniff returns the charset named by an XML declaration or an HTML meta
// tag near the start of raw.
func Sniff(raw []byte) string {
	head := raw
	if len(head) > 2048 {
		head = head[:2048]
	}
	if m := xmlDeclCharset.FindSubmatch(head); m != nil {
		return string(m[1])
	}
	if m := metaTagCharset.FindSubmatch(head); m != nil {
		return string(m[1])
	}
	return ""
}

// Decode converts raw to UTF-8. The declared charset wins, then an in-document
// declaration, then statistical detection. An in-document legacy charset is
// ignored when the bytes are valid non-ASCII UTF-8.
// Unsupported charsets go through Fallbacks with strict decoding and the
// last resort drops invalid sequences, so Decode never fails.
func Decode(raw []byte, declared string) Result {
	name := Normalize(declared)
	if name == "" {
		name = Normalize(Sniff(raw))
		if name != "" && name != "utf-8" && !isASCII(raw) && utf8.Valid(raw) {
			name = "utf-8"
		}
	}
	if name == "" {
		name = Detect(raw)
	}
	if name == "" {
		name = "utf-8"
	}

	if enc, ok := supported[name]; ok {
		if text, ok := decodeStrict(enc, raw); ok {
			return Result{Text: text, Charset: name}
		}
	}

	for _, fb := range Fallbacks {
		if fb == name {
			continue
		}
		if text, ok := decodeStrict(supported[fb], raw); ok {
			return Result{Text: text, Charset: fb}
		}
	}

	return Result{
		Text:    strings.ToValidUTF8(string(trimBOM(raw)), ""),
		Charset: "utf-8",
		Lossy:   true,
	}
}

// decodeStrict fails on invalid input instead of substituting U+FFFD.
func decodeStrict(enc encoding.Encoding, raw []byte) (string, bool) {
	if enc == unicode.UTF8 {
		raw = trimBOM(raw)
		if !utf8.Valid(raw) {
			return "", false
		}
		return string(raw), true
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(out, utf8.RuneError) && !bytes.Contains(raw, []byte("\xef\xbf\xbd")) {
		return "", false
	}
	return string(trimBOM(out)), true
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func trimBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})
}

var (
	bareAmpersand = regexp.MustCompile(`&(?:[a-zA-Z][a-zA-Z0-9]*;|#[0-9]+;|#[xX][0-9a-fA-F]+;)?`)
	xmlDeclEnc    = regexp.MustCompile(`(?i)(<\?xml[^>]*?encoding\s*=\s*)["'][^"']*["']`)
)

// RepairFeed fixes the markup problems that break strict XML parsing of
// real-world feeds: unescaped ampersands, non-breaking spaces and an XML
// declaration that names the pre-decoding charset.
func RepairFeed(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = bareAmpersand.ReplaceAllStringFunc(text, func(m string) string {
		if m == "&" {
			return "&amp;"
		}
		return m
	})
	return xmlDeclEnc.ReplaceAllString(text, `${1}"utf-8"`)
}
