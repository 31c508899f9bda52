// Package telegram delivers posts through the Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultAPIURL = "https://api.telegram.org"

// APIError is a rejected sendMessage call.
type APIError struct {
	Status      int
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram API error: status %d", e.Status)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %ds)", e.RetryAfter)
	}
	return msg
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Client sends one message per call. It never retries; pacing and
// failure handling belong to the caller.
type Client struct {
	http  *resty.Client
	token string
}

func New(token, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, token: token}
}

// SendMessage posts HTML text to chatID. preview toggles the link preview.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, preview bool) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": !preview,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/bot" + c.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("error HTTP request: %w", err)
	}

	var body apiResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return &APIError{
			Status:      resp.StatusCode(),
			Description: fmt.Sprintf("unreadable response (%v): %s", err, snippet(resp.Body(), 200)),
		}
	}
	if resp.StatusCode() == 200 && body.OK {
		return nil
	}
	return &APIError{
		Status:      resp.StatusCode(),
		Code:        body.ErrorCode,
		Description: body.Description,
		RetryAfter:  body.Parameters.RetryAfter,
	}
}

func snippet(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = strings.ToValidUTF8(s[:n], "") + "..."
	}
	return s
}
