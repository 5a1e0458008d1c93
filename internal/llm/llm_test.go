package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama", req.Model)
		assert.Equal(t, 50, req.MaxTokens)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  WALLET_ISSUE \n"}}]}`))
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL+"/", "key", "llama", time.Second)
	text, err := c.Complete(context.Background(), "classify", 50)
	require.NoError(t, err)
	assert.Equal(t, "WALLET_ISSUE", text)
}

func TestChatClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewChatClient(srv.URL, "key", "llama", time.Second).Complete(context.Background(), "x", 10)
	assert.ErrorContains(t, err, "429")

	_, err = NewChatClient(srv.URL, "", "llama", time.Second).Complete(context.Background(), "x", 10)
	assert.Error(t, err)
}

func TestChatClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewChatClient(srv.URL, "key", "llama", time.Second).Complete(context.Background(), "x", 10)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestChatClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewChatClient(srv.URL, "key", "llama", 20*time.Millisecond).Complete(context.Background(), "x", 10)
	assert.Error(t, err)
}

func TestVisionClientClassifyImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini:generateContent", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, "image/png", req.Contents[0].Parts[1].InlineData.MimeType)
		assert.Equal(t, "AQID", req.Contents[0].Parts[1].InlineData.Data)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Uncertain\n"}]}}]}`))
	}))
	defer srv.Close()

	c := NewVisionClient(srv.URL, "key", "gemini", time.Second)
	text, err := c.ClassifyImage(context.Background(), "prompt", []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Uncertain", text)
	assert.Equal(t, "gemini", c.Model())
}

func TestVisionClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad image"}}`))
	}))
	defer srv.Close()

	_, err := NewVisionClient(srv.URL, "key", "gemini", time.Second).
		ClassifyImage(context.Background(), "prompt", []byte{1}, "image/png")
	assert.ErrorContains(t, err, "bad image")
}
