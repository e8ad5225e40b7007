package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/menta2k/canvas-calc/pkg/types"
)

func TestSimpleQuerySendsDataURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string            `json:"role"`
				Content []json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Model != "llava-v1.6" {
			t.Errorf("Unexpected model %q", req.Model)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Errorf("Expected one message with two parts, got %+v", req.Messages)
		} else if !strings.Contains(string(req.Messages[0].Content[1]), "data:image/png;base64,aW1n") {
			t.Errorf("Expected data URL image part, got %s", req.Messages[0].Content[1])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"llava-v1.6",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"[{\"expr\": \"y\", \"result\": 6, \"assign\": true}]"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("", srv.URL+"/v1")
	text, err := c.SimpleQuery(context.Background(), "llava-v1.6", "solve", "aW1n", "image/png")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if !strings.Contains(text, `"expr": "y"`) {
		t.Errorf("Unexpected reply %q", text)
	}
}

func TestSimpleQueryRequiresKeyForHostedAPI(t *testing.T) {
	c := NewClient("", "")
	_, err := c.SimpleQuery(context.Background(), "", "solve", "aW1n", "image/png")
	if !types.IsKind(err, types.KindAuth) {
		t.Errorf("Expected auth error, got %v", err)
	}
}

func TestSimpleQueryUnauthorized(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	c := NewClient("bad-key", srv.URL+"/v1")
	_, err := c.SimpleQuery(context.Background(), "gpt-4o-mini", "solve", "aW1n", "image/png")
	if !types.IsKind(err, types.KindAuth) {
		t.Errorf("Expected auth error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected exactly one request, got %d", calls)
	}
}

func TestSimpleQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL+"/v1")
	_, err := c.SimpleQuery(context.Background(), "", "solve", "aW1n", "")
	if !types.IsKind(err, types.KindTransport) {
		t.Errorf("Expected transport error, got %v", err)
	}
}
