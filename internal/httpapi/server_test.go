package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/helpthread/helpthread/internal/helpthread"
)

func newTestServer(t *testing.T) (*Server, *helpthread.Store) {
	t.Helper()
	store := helpthread.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	return NewServer(store, nil), store
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestCreateAndListEmails(t *testing.T) {
	server, _ := newTestServer(t)

	createResp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/api/emails",
		body: map[string]any{
			"emailData": map[string]any{
				"subject":   "Q3 Budget",
				"body":      "Numbers attached",
				"from":      "cfo@example.com",
				"timestamp": 1700000000000,
			},
			"taggedPeople": []string{"helper@example.com"},
			"note":         "Can you sanity-check this?",
			"requester":    "asker@example.com",
		},
	})
	if createResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on create, got %d (%s)", createResp.Code, createResp.Body.String())
	}
	var created struct {
		Success bool   `json:"success"`
		EmailID string `json:"emailId"`
	}
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !created.Success || created.EmailID == "" {
		t.Fatalf("expected success with emailId, got %+v", created)
	}
	if !strings.HasPrefix(created.EmailID, "Q3 Budget-") {
		t.Fatalf("expected subject-prefixed id, got %q", created.EmailID)
	}

	listResp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/api/emails/" + url.PathEscape("Helper@Example.com"),
	})
	if listResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on list, got %d (%s)", listResp.Code, listResp.Body.String())
	}
	var listed struct {
		Success bool                              `json:"success"`
		Emails  map[string]helpthread.TaggedEmail `json:"emails"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	rec, ok := listed.Emails[created.EmailID]
	if !ok {
		t.Fatalf("expected tagged email visible to helper, got %v", listed.Emails)
	}
	if rec.Status != helpthread.StatusPending {
		t.Fatalf("expected pending status, got %q", rec.Status)
	}
	if len(rec.Suggestions) != 0 {
		t.Fatalf("expected empty suggestion thread, got %v", rec.Suggestions)
	}

	strangerResp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/api/emails/" + url.PathEscape("stranger@example.com"),
	})
	var strangerListed struct {
		Emails map[string]helpthread.TaggedEmail `json:"emails"`
	}
	if err := json.NewDecoder(strangerResp.Body).Decode(&strangerListed); err != nil {
		t.Fatalf("decode stranger list: %v", err)
	}
	if len(strangerListed.Emails) != 0 {
		t.Fatalf("expected no emails for uninvolved user, got %v", strangerListed.Emails)
	}
}

func TestCreateEmailMissingFields(t *testing.T) {
	server, store := newTestServer(t)

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/api/emails",
		body: map[string]any{
			"emailData": map[string]any{"subject": "Hello"},
			"note":      "missing taggedPeople",
		},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", resp.Code, resp.Body.String())
	}
	var payload struct {
		Success  bool   `json:"success"`
		Error    string `json:"error"`
		Received struct {
			HasEmailData    bool `json:"hasEmailData"`
			HasTaggedPeople bool `json:"hasTaggedPeople"`
			HasNote         bool `json:"hasNote"`
		} `json:"received"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Success || payload.Error != "Missing required fields" {
		t.Fatalf("unexpected error payload: %+v", payload)
	}
	if !payload.Received.HasEmailData || payload.Received.HasTaggedPeople || !payload.Received.HasNote {
		t.Fatalf("unexpected received flags: %+v", payload.Received)
	}
	if tagged, _ := store.Stats(); tagged != 0 {
		t.Fatalf("expected store untouched after rejection, got %d records", tagged)
	}
}

func TestAddAndListMessages(t *testing.T) {
	server, store := newTestServer(t)
	rec := createTagged(t, store, "Incident report", "asker@example.com", "helper@example.com")

	msgResp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/api/emails/" + url.PathEscape(rec.EmailID) + "/messages",
		body: map[string]any{
			"message": map[string]any{
				"text":   "Check the retry queue first.",
				"author": "helper@example.com",
			},
		},
	})
	if msgResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on message, got %d (%s)", msgResp.Code, msgResp.Body.String())
	}
	var added struct {
		Success   bool   `json:"success"`
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(msgResp.Body).Decode(&added); err != nil {
		t.Fatalf("decode message response: %v", err)
	}
	if !added.Success || added.MessageID == "" {
		t.Fatalf("expected messageId, got %+v", added)
	}

	listResp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/api/emails/" + url.PathEscape(rec.EmailID) + "/messages",
	})
	if listResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on message list, got %d (%s)", listResp.Code, listResp.Body.String())
	}
	var listed struct {
		Success  bool                 `json:"success"`
		Messages []helpthread.Message `json:"messages"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode message list: %v", err)
	}
	if len(listed.Messages) != 1 || listed.Messages[0].Text != "Check the retry queue first." {
		t.Fatalf("unexpected messages: %v", listed.Messages)
	}
	if listed.Messages[0].Timestamp == 0 {
		t.Fatalf("expected server-assigned timestamp, got %+v", listed.Messages[0])
	}
}

func TestAddMessageInvalidData(t *testing.T) {
	server, store := newTestServer(t)
	rec := createTagged(t, store, "Vendor contract", "asker@example.com", "helper@example.com")

	for name, body := range map[string]map[string]any{
		"missing author": {"message": map[string]any{"text": "hi"}},
		"empty text":     {"message": map[string]any{"text": "", "author": "helper@example.com"}},
		"no message":     {"text": "hi", "author": "helper@example.com"},
	} {
		resp := doRequest(t, server, request{
			method: http.MethodPost,
			path:   "/api/emails/" + url.PathEscape(rec.EmailID) + "/messages",
			body:   body,
		})
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%s)", name, resp.Code, resp.Body.String())
		}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("%s: decode payload: %v", name, err)
		}
		if payload.Error != "Invalid message data" {
			t.Fatalf("%s: unexpected error %q", name, payload.Error)
		}
	}
}

func TestAddMessageUnknownEmail(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/api/emails/no-such-id/messages",
		body: map[string]any{
			"message": map[string]any{"text": "hi", "author": "helper@example.com"},
		},
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", resp.Code, resp.Body.String())
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Error != "Email not found" {
		t.Fatalf("unexpected error %q", payload.Error)
	}
}

func TestLegacySuggestionRoute(t *testing.T) {
	server, store := newTestServer(t)
	rec := createTagged(t, store, "Offsite planning", "asker@example.com", "helper@example.com")

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/api/emails/" + url.PathEscape(rec.EmailID) + "/suggestions",
		body: map[string]any{
			"suggestion": "Book the venue early.",
			"author":     "helper@example.com",
		},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}

	stored, err := store.Get(rec.EmailID)
	if err != nil {
		t.Fatalf("get after suggestion: %v", err)
	}
	if len(stored.Suggestions) != 1 || stored.Suggestions[0].Text != "Book the venue early." {
		t.Fatalf("unexpected suggestions: %v", stored.Suggestions)
	}
}

func TestEmailIDWithSpecialCharacters(t *testing.T) {
	server, store := newTestServer(t)
	rec := createTagged(t, store, "Re: FY25 plan / revision #2", "asker@example.com", "helper@example.com")

	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/api/emails/" + url.PathEscape(rec.EmailID) + "/messages",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for escaped id, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestCORSForExtensionOrigin(t *testing.T) {
	server, _ := newTestServer(t)

	preflight := doRequest(t, server, request{
		method:  http.MethodOptions,
		path:    "/api/emails",
		headers: map[string]string{"Origin": "chrome-extension://abcdefg"},
	})
	if preflight.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", preflight.Code)
	}
	if got := preflight.Header().Get("Access-Control-Allow-Origin"); got != "chrome-extension://abcdefg" {
		t.Fatalf("expected extension origin allowed, got %q", got)
	}

	other := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/health",
		headers: map[string]string{"Origin": "https://evil.example.com"},
	})
	if got := other.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for web origin, got %q", got)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	store := helpthread.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	server := NewServerWithConfig(store, nil, ServerConfig{
		RateLimitMax:    2,
		RateLimitWindow: time.Minute,
	})

	for i := 0; i < 2; i++ {
		resp := doRequest(t, server, request{method: http.MethodGet, path: "/api/emails/user@example.com"})
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.Code)
		}
	}
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/api/emails/user@example.com"})
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once over limit, got %d", resp.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	store := helpthread.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	server := NewServerWithConfig(store, nil, ServerConfig{MaxBodyBytes: 64})

	resp := doRawRequest(t, server, rawRequest{
		method: http.MethodPost,
		path:   "/api/emails",
		body:   bytes.Repeat([]byte("x"), 256),
	})
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/api/unknown"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestEventStream(t *testing.T) {
	store := helpthread.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	server := NewServer(store, nil)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	rec := createTagged(t, store, "Renewal question", "asker@example.com", "helper@example.com")

	var ev helpthread.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != helpthread.EventEmailTagged || ev.EmailID != rec.EmailID {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func createTagged(t *testing.T, store *helpthread.Store, subject, requester string, tagged ...string) helpthread.TaggedEmail {
	t.Helper()
	rec, err := store.Create(helpthread.CreateRequest{
		Email:        helpthread.EmailSnapshot{Subject: subject, Body: "body", From: "sender@example.com"},
		TaggedPeople: tagged,
		Note:         "please take a look",
		Requester:    requester,
	})
	if err != nil {
		t.Fatalf("create tagged email: %v", err)
	}
	return rec
}

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

type rawRequest struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(bodyBytes))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func doRawRequest(t *testing.T, server http.Handler, r rawRequest) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(r.body))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}
