package gemini

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

type Client struct {
	client *genai.Client
	model  string
}

func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Translate asks the model for a plain translation of a news text.
func (c *Client) Translate(ctx context.Context, text, from, to string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.2)

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(text, from, to)))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response from Gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return parseTranslation(b.String())
}

func buildPrompt(text, from, to string) string {
	return fmt.Sprintf(`Translate the following news text from %s to %s.
Keep the meaning and the journalistic tone. Do not translate brand or company names.
Answer with the translation only, prefixed with "TRANSLATION:".

Text:
%s`, languageName(from), languageName(to), text)
}

var languageNames = map[string]string{
	"ru": "Russian",
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"zh": "Chinese",
	"uk": "Ukrainian",
}

func languageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	if code == "" {
		return "the detected language"
	}
	return code
}

var (
	labelPattern = regexp.MustCompile(`(?i)^\s*(TRANSLATION|ПЕРЕВОД)\s*:\s*`)
	fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\n?(.*?)\\n?```$")
)

// parseTranslation strips the answer label, code fences and wrapping quotes
// the model sometimes adds.
func parseTranslation(response string) (string, error) {
	s := strings.TrimSpace(response)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = labelPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "" {
		return "", fmt.Errorf("could not parse Gemini response: %q", response)
	}
	return strings.Join(strings.Fields(s), " "), nil
}
