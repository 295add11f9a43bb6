package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStalledHandshakeIsNetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// Accept connections but never answer the TLS handshake.
	done := make(chan struct{})
	var conns []net.Conn
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	defer func() {
		ln.Close()
		<-done
		for _, conn := range conns {
			conn.Close()
		}
	}()

	client := NewClient(100 * time.Millisecond)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://"+ln.Addr().String()+"/api/tags", nil)
	require.NoError(t, err)

	started := time.Now()
	_, err = client.Do(req)
	require.Error(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)

	mapped := sitewiseErrors.NewDefaultErrorMapper().MapError(err)
	assert.Equal(t, "NetworkError", sitewiseErrors.Kind(mapped))
}

func TestSlowResponseIsNotBoundByConnectTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"message":{"content":"done"},"done":true}`))
	}))
	defer server.Close()

	client := NewClient(50 * time.Millisecond)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL+"/api/chat", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "done")
}

func TestRequestContextBoundsSlowResponse(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+"/api/chat", nil)
	require.NoError(t, err)

	_, err = NewClient(time.Second).Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClientDefaultsConnectTimeout(t *testing.T) {
	assert.NotNil(t, NewClient(0).Transport)
}
