package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"trading_agent/internal/config"
	apperrors "trading_agent/pkg/errors"
	"trading_agent/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://api.deepseek.com":                     "https://api.deepseek.com",
		"https://api.deepseek.com/":                    "https://api.deepseek.com",
		"https://api.deepseek.com/v1":                  "https://api.deepseek.com",
		"https://api.deepseek.com/v1/":                 "https://api.deepseek.com",
		"https://api.deepseek.com/v1/chat/completions": "https://api.deepseek.com",
		"https://api.deepseek.com/chat/completions":    "https://api.deepseek.com",
		" https://api.deepseek.com/v1 ":                "https://api.deepseek.com",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeBaseURL(in), "input %q", in)
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(&config.OracleConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "deepseek-chat",
		TimeoutSeconds: 5,
	}, logging.GetGlobalLogger())
}

func TestChatSuccess(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"action":"HOLD"}`}},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL+"/v1")
	reply, err := client.Chat(context.Background(), "system", "user")

	require.NoError(t, err)
	assert.Equal(t, `{"action":"HOLD"}`, reply)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "deepseek-chat", gotBody["model"])
	assert.Equal(t, false, gotBody["stream"])
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Chat(context.Background(), "system", "user")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrOracleUnavailable)
}

func TestChatProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model overloaded"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Chat(context.Background(), "system", "user")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Chat(context.Background(), "system", "user")
	require.Error(t, err)
}
