package vk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(func(o *Options) {
		o.AccessToken = "secret"
		o.BaseURL = srv.URL
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestSendMessage(t *testing.T) {
	var got url.Values
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"response":4242}`))
	})

	id, err := c.SendMessage(context.Background(), 2000000001, "lol nice", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), id)
	assert.Equal(t, "/messages.send", path)
	assert.Equal(t, "2000000001", got.Get("peer_id"))
	assert.Equal(t, "lol nice", got.Get("message"))
	assert.Equal(t, "5", got.Get("reply_to"))
	assert.Equal(t, "0", got.Get("random_id"))
	assert.Equal(t, "secret", got.Get("access_token"))
	assert.Equal(t, DefaultAPIVersion, got.Get("v"))
}

func TestSendMessageWithoutReply(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		_, _ = w.Write([]byte(`{"response":1}`))
	})

	_, err := c.SendMessage(context.Background(), 1, "x", 0)
	require.NoError(t, err)
	assert.False(t, got.Has("reply_to"))
}

func TestSendReaction(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		assert.Equal(t, "/messages.sendReaction", r.URL.Path)
		_, _ = w.Write([]byte(`{"response":true}`))
	})

	id, err := c.SendReaction(context.Background(), 2000000001, 9, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "9", got.Get("cmid"))
	assert.Equal(t, "3", got.Get("reaction_id"))
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"error_code":917,"error_msg":"You don't have access to this chat"}}`))
	})

	_, err := c.SendMessage(context.Background(), 1, "x", 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 917, apiErr.Code)
	assert.Equal(t, "messages.send", apiErr.Method)
}

func TestHTTPStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.SendReaction(context.Background(), 1, 2, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}
