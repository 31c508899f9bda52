package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const googleURL = "https://translate.googleapis.com/translate_a/single"

// Google calls the public translate_a endpoint used by the browser widget.
type Google struct {
	http *resty.Client
	url  string
}

func NewGoogle(baseURL string, timeout time.Duration) *Google {
	if baseURL == "" {
		baseURL = googleURL
	}
	return &Google{http: resty.New().SetTimeout(timeout), url: baseURL}
}

func (g *Google) Translate(ctx context.Context, text, from, to string) (string, error) {
	if from == "" {
		from = "auto"
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client": "gtx",
			"sl":     from,
			"tl":     to,
			"dt":     "t",
			"q":      text,
		}).
		Get(g.url)
	if err != nil {
		return "", fmt.Errorf("HTTP error: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("google Translate API returned status: %d", resp.StatusCode())
	}
	translation, err := parseGoogleTranslateResponse(resp.Body())
	if err != nil {
		return "", fmt.Errorf("error parsing response: %w", err)
	}
	return translation, nil
}

// parseGoogleTranslateResponse joins the translated segments of a
// translate_a response: [[["seg","orig",...],...],...].
func parseGoogleTranslateResponse(body []byte) (string, error) {
	var response []any
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response) == 0 {
		return "", errors.New("empty response from Google Translate")
	}

	segments, ok := response[0].([]any)
	if !ok {
		return "", errors.New("unexpected response format")
	}

	var result strings.Builder
	for _, seg := range segments {
		if parts, ok := seg.([]any); ok && len(parts) > 0 {
			if s, ok := parts[0].(string); ok {
				result.WriteString(s)
			}
		}
	}
	if result.Len() == 0 {
		return "", errors.New("no translated segments")
	}
	return result.String(), nil
}
