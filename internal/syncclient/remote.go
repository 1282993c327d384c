package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/helpthread/helpthread/internal/helpthread"
)

// ErrRemoteUnavailable marks transport-level failures (connection refused,
// timeouts, 5xx after retries). Callers fall back to local data on it.
var ErrRemoteUnavailable = errors.New("remote server unavailable")

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// RemoteStore is the server-side mirror of the local record store.
type RemoteStore interface {
	Ping(ctx context.Context) error
	ListEmails(ctx context.Context, userEmail string) (map[string]helpthread.TaggedEmail, error)
	CreateEmail(ctx context.Context, req helpthread.CreateRequest) (string, error)
	AddMessage(ctx context.Context, emailID string, msg helpthread.Message) (string, error)
	ListMessages(ctx context.Context, emailID string) ([]helpthread.Message, error)
}

type HTTPRemote struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPRemote talks to the REST server at baseURL. Transient failures are
// retried a fixed number of times with a fixed delay; a nil httpClient gets
// a default with a 10s timeout.
func NewHTTPRemote(baseURL string, httpClient *http.Client) *HTTPRemote {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRemote{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: 2,
		retryDelay: 500 * time.Millisecond,
	}
}

func (r *HTTPRemote) Ping(ctx context.Context) error {
	return r.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (r *HTTPRemote) ListEmails(ctx context.Context, userEmail string) (map[string]helpthread.TaggedEmail, error) {
	var out struct {
		Emails map[string]helpthread.TaggedEmail `json:"emails"`
	}
	path := "/api/emails/" + url.PathEscape(userEmail)
	if err := r.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Emails == nil {
		out.Emails = map[string]helpthread.TaggedEmail{}
	}
	return out.Emails, nil
}

func (r *HTTPRemote) CreateEmail(ctx context.Context, req helpthread.CreateRequest) (string, error) {
	var out struct {
		EmailID string `json:"emailId"`
	}
	if err := r.doJSON(ctx, http.MethodPost, "/api/emails", req, &out); err != nil {
		return "", err
	}
	return out.EmailID, nil
}

func (r *HTTPRemote) AddMessage(ctx context.Context, emailID string, msg helpthread.Message) (string, error) {
	body := struct {
		Message helpthread.Message `json:"message"`
	}{Message: msg}
	var out struct {
		MessageID string `json:"messageId"`
	}
	path := "/api/emails/" + url.PathEscape(emailID) + "/messages"
	if err := r.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

func (r *HTTPRemote) ListMessages(ctx context.Context, emailID string) ([]helpthread.Message, error) {
	var out struct {
		Messages []helpthread.Message `json:"messages"`
	}
	path := "/api/emails/" + url.PathEscape(emailID) + "/messages"
	if err := r.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (r *HTTPRemote) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			if attempt < r.maxRetries {
				if waitErr := waitWithContext(ctx, r.retryDelay); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < r.maxRetries {
			if waitErr := waitWithContext(ctx, r.retryDelay); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		if resp.StatusCode == http.StatusNotFound && errPayload.Error == "Email not found" {
			return helpthread.ErrNotFound
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: http %d", ErrRemoteUnavailable, resp.StatusCode)
		}
		message := errPayload.Error
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: message}
	}
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
