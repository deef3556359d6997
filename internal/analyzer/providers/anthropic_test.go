package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, text string, requests *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		*requests = append(*requests, req)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         req["model"],
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": text}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicScorePrependsPrefill(t *testing.T) {
	var requests []map[string]any
	srv := newTestServer(t, `"engagementMetrics": {}}`, &requests)

	scorer := NewAnthropic(AnthropicOptions{APIKey: "test", Model: "claude-test", MaxTokens: 256},
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	got, err := scorer.Score(context.Background(), "rate this")
	require.NoError(t, err)
	assert.Equal(t, `{"engagementMetrics": {}}`, got)
	assert.Equal(t, "claude-test", scorer.Model())

	require.Len(t, requests, 1)
	assert.Equal(t, "claude-test", requests[0]["model"])
	assert.EqualValues(t, 256, requests[0]["max_tokens"])

	messages, ok := requests[0]["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "assistant", messages[1].(map[string]any)["role"])
}

func TestAnthropicScoreRejectsEmptyAnswer(t *testing.T) {
	var requests []map[string]any
	srv := newTestServer(t, "", &requests)

	scorer := NewAnthropic(AnthropicOptions{APIKey: "test", Model: "claude-test"},
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	_, err := scorer.Score(context.Background(), "rate this")
	assert.Error(t, err)
}

func TestAnthropicScoreHonorsCanceledContextWhileRateLimited(t *testing.T) {
	var requests []map[string]any
	srv := newTestServer(t, "}", &requests)

	scorer := NewAnthropic(AnthropicOptions{APIKey: "test", Model: "claude-test", RequestsPerMinute: 1},
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	_, err := scorer.Score(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = scorer.Score(ctx, "second")
	assert.Error(t, err)
	assert.Len(t, requests, 1)
}
