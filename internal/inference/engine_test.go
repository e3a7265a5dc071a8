package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

// fakeServer answers chat completions with a fixed content and captures
// the last request body.
func fakeServer(t *testing.T, content string, status int, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if got != nil {
			_ = json.Unmarshal(body, got)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error": {"message": "boom"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testEngine(url string) *OpenAIEngine {
	return NewOpenAIEngine(config.InferenceConfig{BaseURL: url + "/v1", Timeout: 5, MaxTokens: 64})
}

func TestOpenAIEngine_SendsGrammar(t *testing.T) {
	var body map[string]any
	srv := fakeServer(t, "  {\"action\": \"on\"}\n", http.StatusOK, &body)

	out, err := testEngine(srv.URL).Complete(context.Background(), Request{
		Model:   "qwen",
		Grammar: `root ::= "x"`,
		Prompt:  "turn on the kitchen lights",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"action": "on"}` {
		t.Errorf("Complete() = %q", out)
	}

	if body["grammar"] != `root ::= "x"` {
		t.Errorf("grammar field = %v", body["grammar"])
	}
	if body["model"] != "qwen" || body["temperature"] != 0.0 {
		t.Errorf("model/temperature = %v/%v", body["model"], body["temperature"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if sys, _ := msgs[0].(map[string]any); sys["content"] != DefaultSystemPrompt {
		t.Errorf("system message = %v", sys)
	}
}

func TestOpenAIEngine_Errors(t *testing.T) {
	t.Run("empty completion", func(t *testing.T) {
		srv := fakeServer(t, "   ", http.StatusOK, nil)
		_, err := testEngine(srv.URL).Complete(context.Background(), Request{Model: "m"})
		if !errors.Is(err, ErrEmptyCompletion) {
			t.Errorf("Complete() error = %v, want ErrEmptyCompletion", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := fakeServer(t, "", http.StatusInternalServerError, nil)
		_, err := testEngine(srv.URL).Complete(context.Background(), Request{Model: "m"})
		if !errors.Is(err, ErrEngine) {
			t.Errorf("Complete() error = %v, want ErrEngine", err)
		}
		var apiErr *openai.Error
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("Complete() error = %v, want *openai.Error with status 500", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		srv := fakeServer(t, "x", http.StatusOK, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := testEngine(srv.URL).Complete(ctx, Request{Model: "m"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Complete() error = %v, want context.Canceled", err)
		}
	})
}
