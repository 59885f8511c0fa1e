package aiadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/expensecore/expense-engine/apperr"
)

func TestStripFencedCodeWithJSONFence(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	got := stripFencedCode(in)
	if got != `{"a":1}` {
		t.Fatalf("expected bare JSON, got %q", got)
	}
}

func TestStripFencedCodePlainFence(t *testing.T) {
	in := "```\n{\"a\":1}\n```"
	got := stripFencedCode(in)
	if got != `{"a":1}` {
		t.Fatalf("expected bare JSON, got %q", got)
	}
}

func TestStripFencedCodeNoFence(t *testing.T) {
	in := `{"a":1}`
	if got := stripFencedCode(in); got != in {
		t.Fatalf("expected unchanged input, got %q", got)
	}
}

func TestInvokeReturnsParsedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key header set")
		}
		resp := messagesResponse{
			Content: []struct {
				Type string `json:"type"`
				Text string `json:"text,omitempty"`
			}{{Type: "text", Text: `{"columnMapping":{}}`}},
			StopReason: "end_turn",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "claude-test", Timeout: 5 * time.Second})
	out, err := a.Invoke(context.Background(), "system", "user", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"columnMapping":{}}` {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestInvokeNonOKStatusIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := a.Invoke(context.Background(), "s", "u", 0, 0)
	if !apperr.Is(err, apperr.KindServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}

func TestInvokeTimeoutIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, APIKey: "k", Model: "m", Timeout: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := a.Invoke(ctx, "s", "u", 0, 0)
	if !apperr.Is(err, apperr.KindServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable on timeout, got %v", err)
	}
}

func TestInvokeMalformedJSONIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := a.Invoke(context.Background(), "s", "u", 0, 0)
	if !apperr.Is(err, apperr.KindParseError) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
