package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetAndPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/balance/abc":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"address":"abc","balance":"1.25"}`))
		case "/transactions/new":
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.JSONEq(t, `{"a":1}`, string(body))
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	resp, err := client.Get(context.Background(), "/balance/abc", RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	var out struct {
		Address string `json:"address"`
		Balance string `json:"balance"`
	}
	require.NoError(t, resp.UnmarshalBody(&out))
	assert.Equal(t, "1.25", out.Balance)

	resp, err = client.Post(context.Background(), "/transactions/new", RequestOptions{Body: []byte(`{"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode())
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := New(srv.URL, Config{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/slow", RequestOptions{})
	assert.Error(t, err)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("localhost")
	assert.Error(t, err)
}
