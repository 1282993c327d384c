package syncclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	name  string
	email string
	err   error
	calls int
}

func (r *stubResolver) Name() string { return r.name }

func (r *stubResolver) Resolve(context.Context) (string, error) {
	r.calls++
	return r.email, r.err
}

func TestChainFirstNonEmptyWins(t *testing.T) {
	first := &stubResolver{name: "first", email: "user@example.com"}
	second := &stubResolver{name: "second", email: "other@example.com"}
	chain := IdentityChain{Resolvers: []Resolver{first, second}}

	email, err := chain.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user@example.com", email)
	require.Zero(t, second.calls, "later resolvers must not run once one succeeds")
}

func TestChainSkipsEmptyAndFailing(t *testing.T) {
	empty := &stubResolver{name: "empty"}
	failing := &stubResolver{name: "failing", err: errors.New("boom")}
	last := &stubResolver{name: "last", email: "User@Example.COM"}
	chain := IdentityChain{Resolvers: []Resolver{empty, failing, last}}

	email, err := chain.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user@example.com", email, "resolved addresses are lowercased")
}

func TestChainExhaustion(t *testing.T) {
	chain := IdentityChain{Resolvers: []Resolver{
		&stubResolver{name: "a"},
		&stubResolver{name: "b", err: errors.New("boom")},
	}}
	_, err := chain.Resolve(context.Background())
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestUserinfoResolver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"oauth-user@example.com","verified_email":true}`))
	}))
	defer server.Close()

	resolver := UserinfoResolver{URL: server.URL, Token: "tok-1", HTTPClient: server.Client()}
	email, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "oauth-user@example.com", email)
}

func TestUserinfoResolverWithoutTokenAbstains(t *testing.T) {
	resolver := UserinfoResolver{URL: "http://unused.example.com"}
	email, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	require.Empty(t, email)
}

func TestFeedResolverScrapesFirstAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<title>Inbox (3) - mailbox.user@example.com - Mail</title>`))
	}))
	defer server.Close()

	resolver := FeedResolver{URL: server.URL, HTTPClient: server.Client()}
	email, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mailbox.user@example.com", email)
}
