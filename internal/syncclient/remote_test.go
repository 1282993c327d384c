package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helpthread/helpthread/internal/helpthread"
)

func newTestRemote(serverURL string, client *http.Client) *HTTPRemote {
	remote := NewHTTPRemote(serverURL, client)
	remote.retryDelay = time.Millisecond
	return remote
}

func TestHTTPRemoteRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"success":false,"error":"busy"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"emails":{}}`))
	}))
	defer server.Close()

	remote := newTestRemote(server.URL, server.Client())
	emails, err := remote.ListEmails(context.Background(), "helper@example.com")
	require.NoError(t, err, "expected retry to recover from transient 503")
	require.Empty(t, emails)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestHTTPRemoteCreateEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/emails", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"emailId":"Subject-1-abc"}`))
	}))
	defer server.Close()

	remote := newTestRemote(server.URL, server.Client())
	id, err := remote.CreateEmail(context.Background(), helpthread.CreateRequest{
		Email:        helpthread.EmailSnapshot{Subject: "Subject"},
		TaggedPeople: []string{"helper@example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, "Subject-1-abc", id)
}

func TestHTTPRemoteMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"Email not found"}`))
	}))
	defer server.Close()

	remote := newTestRemote(server.URL, server.Client())
	_, err := remote.AddMessage(context.Background(), "missing", helpthread.Message{Text: "hi", Author: "a@b.co"})
	require.ErrorIs(t, err, helpthread.ErrNotFound)
}

func TestHTTPRemoteUnavailableAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	remote := newTestRemote(serverURL, &http.Client{Timeout: time.Second})
	err := remote.Ping(context.Background())
	require.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestHTTPRemoteEscapesEmailID(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"messages":[]}`))
	}))
	defer server.Close()

	remote := newTestRemote(server.URL, server.Client())
	_, err := remote.ListMessages(context.Background(), "Re: plan/rev #2-1-abc")
	require.NoError(t, err)
	require.Contains(t, gotPath, "Re:%20plan%2Frev%20%232-1-abc")
}
