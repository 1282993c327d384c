package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/helpthread/helpthread/internal/helpthread"
)

// ErrNoIdentity is returned when every resolver in the chain comes up empty.
var ErrNoIdentity = errors.New("user email could not be determined")

// Resolver produces the acting user's email address from one source. An
// empty address with a nil error means "this source does not know".
type Resolver interface {
	Name() string
	Resolve(ctx context.Context) (string, error)
}

// CachedResolver reads the address previously stored alongside the records.
type CachedResolver struct {
	Store *helpthread.Store
}

func (CachedResolver) Name() string { return "cached" }

func (r CachedResolver) Resolve(context.Context) (string, error) {
	return r.Store.UserEmail(), nil
}

// StaticResolver returns a configured address, the moral equivalent of a
// browser profile email.
type StaticResolver struct {
	Email string
}

func (StaticResolver) Name() string { return "profile" }

func (r StaticResolver) Resolve(context.Context) (string, error) {
	return strings.TrimSpace(r.Email), nil
}

// UserinfoResolver asks an OAuth userinfo endpoint who the token belongs to.
type UserinfoResolver struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

func (UserinfoResolver) Name() string { return "userinfo" }

func (r UserinfoResolver) Resolve(ctx context.Context) (string, error) {
	if r.URL == "" || r.Token == "" {
		return "", nil
	}
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+r.Token)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return strings.TrimSpace(payload.Email), nil
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// FeedResolver scrapes the first email address out of a mailbox page or
// feed, the fallback of last resort.
type FeedResolver struct {
	URL        string
	HTTPClient *http.Client
}

func (FeedResolver) Name() string { return "feed" }

func (r FeedResolver) Resolve(ctx context.Context) (string, error) {
	if r.URL == "" {
		return "", nil
	}
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("feed returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return emailPattern.FindString(string(body)), nil
}

// IdentityChain tries each resolver in order and returns the first non-empty
// address. Resolver errors are logged and skipped; exhausting the chain
// yields ErrNoIdentity.
type IdentityChain struct {
	Resolvers []Resolver
	Logger    *zap.Logger
}

func (c IdentityChain) Resolve(ctx context.Context) (string, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, resolver := range c.Resolvers {
		email, err := resolver.Resolve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Debug("identity resolver failed",
				zap.String("resolver", resolver.Name()),
				zap.Error(err))
			continue
		}
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			logger.Debug("identity resolved",
				zap.String("resolver", resolver.Name()),
				zap.String("userEmail", email))
			return email, nil
		}
	}
	return "", ErrNoIdentity
}
