package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/chat-widget/backend/internal/model/webhook"
)

func TestSendPostsPayload(t *testing.T) {
	var got model.Payload
	var contentType, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		contentType = r.Header.Get("Content-Type")
		accept = r.Header.Get("Accept")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"output":"Hi there"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	payload := model.Payload{ChatID: "chat_abc|ua|ios|Oslo, Norway", Message: "hello", Route: "general"}
	reply, err := client.Send(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, payload, got)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "application/json", accept)
}

func TestSendReplyShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message":"from message"}`, "from message"},
		{"output wins", `{"response":"r","output":"o"}`, "o"},
		{"empty output falls through", `{"output":"","message":"","response":"third"}`, "third"},
		{"array", `[{"output":"first"}]`, "first"},
		{"no fields", `{"foo":"bar"}`, model.FallbackReply},
		{"empty array", `[]`, model.FallbackReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := NewClient(srv.URL)
			require.NoError(t, err)
			reply, err := client.Send(context.Background(), model.Payload{Message: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply)
		})
	}
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"output":"ignored"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Send(context.Background(), model.Payload{Message: "x"})
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusInternalServerError, transportErr.Status)
	assert.Equal(t, "HTTP error! status: 500", err.Error())
}

func TestSendMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Send(context.Background(), model.Payload{Message: "x"})
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Contains(t, err.Error(), "invalid JSON response")
}

func TestSendUnreachableHidesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL + "/secret-hook"
	srv.Close()

	client, err := NewClient(endpoint)
	require.NoError(t, err)

	_, err = client.Send(context.Background(), model.Payload{Message: "x"})
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Zero(t, transportErr.Status)
	assert.False(t, strings.Contains(err.Error(), "secret-hook"), "error leaked url: %v", err)
	assert.False(t, strings.Contains(err.Error(), "127.0.0.1"), "error leaked host: %v", err)
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Send(context.Background(), model.Payload{Message: "x"})
	require.Error(t, err)
	assert.Equal(t, "request timed out", err.Error())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient("  ")
	assert.ErrorIs(t, err, ErrNoURL)

	_, err = NewClient("not a url")
	assert.Error(t, err)
}
