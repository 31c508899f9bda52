package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendMessage(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	c := New("123:abc", srv.URL, 5*time.Second)
	if err := c.SendMessage(context.Background(), "@metal", "<b>Steel</b>", false); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if got["chat_id"] != "@metal" || got["text"] != "<b>Steel</b>" || got["parse_mode"] != "HTML" {
		t.Errorf("payload = %v", got)
	}
	if got["disable_web_page_preview"] != true {
		t.Errorf("preview should be disabled: %v", got)
	}
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`))
	}))
	defer srv.Close()

	err := New("t", srv.URL, 5*time.Second).SendMessage(context.Background(), "1", "x", true)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Status != 429 || apiErr.RetryAfter != 7 || apiErr.Description == "" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestSendMessageNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := New("t", srv.URL, 5*time.Second).SendMessage(context.Background(), "1", "x", false)
	if err == nil || err.Error() != "telegram API error: status 400: Bad Request: chat not found" {
		t.Fatalf("err = %v", err)
	}
}

func TestSendMessageNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	defer srv.Close()

	err := New("t", srv.URL, 5*time.Second).SendMessage(context.Background(), "1", "x", false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(apiErr.Description, "unreadable response") || !strings.Contains(apiErr.Description, "502 Bad Gateway") {
		t.Fatalf("description = %q", apiErr.Description)
	}
}

func TestSendMessageTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	if err := New("t", srv.URL, time.Second).SendMessage(context.Background(), "1", "x", false); err == nil {
		t.Fatal("expected error")
	}
}
