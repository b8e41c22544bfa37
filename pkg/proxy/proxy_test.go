package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"IsTor":true}`))
	}))
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	assert.NoError(t, Check(context.Background(), ok.Client(), ok.URL))

	err := Check(context.Background(), down.Client(), down.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCheckFailsWithoutProxy(t *testing.T) {
	client, err := NewClient("127.0.0.1:1", "", "", 2*time.Second)
	require.NoError(t, err)

	err = Check(context.Background(), client, "http://example.com/")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy connection failed")
}

func TestChromeFlag(t *testing.T) {
	assert.Equal(t, "socks5://127.0.0.1:9150", ChromeFlag("127.0.0.1:9150"))
}
