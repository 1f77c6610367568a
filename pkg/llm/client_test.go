package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "非200状态码",
			status: http.StatusUnauthorized,
			body:   `{"error":"invalid key"}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
				assert.Contains(t, apiErr.Body, "invalid key")
			},
		},
		{
			name:   "无choices",
			status: http.StatusOK,
			body:   `{"choices":[]}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyReply)
			},
		},
		{
			name:   "空白内容",
			status: http.StatusOK,
			body:   `{"choices":[{"message":{"role":"assistant","content":"  "}}]}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyReply)
			},
		},
		{
			name:   "非JSON响应",
			status: http.StatusOK,
			body:   `<html>`,
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "解析响应失败")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewLLMClient(srv.URL, "sk-test", "deepseek-chat", WithHTTPClient(srv.Client()))
			_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestChatTrimsReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"\n 稳健 \n"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewLLMClient(srv.URL, "sk-test", "deepseek-chat", WithMaxTokens(64))
	reply, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "稳健", reply)
}
