package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helpthread/helpthread/internal/helpthread"
)

const extensionOriginScheme = "chrome-extension://"

type ServerConfig struct {
	// RateLimitMax requests per RateLimitWindow and client address. Zero
	// takes the defaults (100 per 15 minutes); negative disables limiting.
	RateLimitMax    int
	RateLimitWindow time.Duration
	// MaxBodyBytes caps request bodies. Tagged emails carry the full email
	// body, so the default is a generous 50 MiB.
	MaxBodyBytes int64
}

// Server exposes a Store over HTTP for cross-device and cross-user
// visibility. The store is injected at construction; handlers keep no
// state of their own.
type Server struct {
	store       *helpthread.Store
	cfg         ServerConfig
	logger      *zap.Logger
	rateLimiter *rateLimiter
	validator   *requestValidator
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}

func NewServer(store *helpthread.Store, logger *zap.Logger) *Server {
	return NewServerWithConfig(store, logger, ServerConfig{})
}

func NewServerWithConfig(store *helpthread.Store, logger *zap.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimitMax == 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 15 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 50 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       store,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
		validator:   newRequestValidator(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("handler panic",
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec))
			writeFailure(w, http.StatusInternalServerError, "Server error")
		}
	}()

	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/" || r.URL.Path == "/dashboard" {
		s.handleDashboard(w, r)
		return
	}

	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), time.Now()) {
		writeFailure(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "api" && parts[1] == "events" && r.Method == http.MethodGet:
		s.handleEvents(w, r)
	case len(parts) == 2 && parts[0] == "api" && parts[1] == "emails" && r.Method == http.MethodPost:
		s.handleCreateEmail(w, r)
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "emails" && r.Method == http.MethodGet:
		s.handleListEmails(w, pathParam(parts[2]))
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "emails" && parts[3] == "messages" && r.Method == http.MethodPost:
		s.handleAddMessage(w, r, pathParam(parts[2]))
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "emails" && parts[3] == "messages" && r.Method == http.MethodGet:
		s.handleListMessages(w, pathParam(parts[2]))
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "emails" && parts[3] == "suggestions" && r.Method == http.MethodPost:
		s.handleAddSuggestion(w, r, pathParam(parts[2]))
	default:
		writeFailure(w, http.StatusNotFound, "Route not found")
	}
}

func (s *Server) handleListEmails(w http.ResponseWriter, userEmail string) {
	userEmail = strings.ToLower(strings.TrimSpace(userEmail))
	emails, err := s.store.ListForUser(userEmail)
	if err != nil {
		s.logger.Error("list emails failed", zap.String("userEmail", userEmail), zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Server error")
		return
	}
	s.logger.Debug("listed emails",
		zap.String("userEmail", userEmail),
		zap.Int("count", len(emails)))
	writeJSON(w, http.StatusOK, struct {
		Success bool                              `json:"success"`
		Emails  map[string]helpthread.TaggedEmail `json:"emails"`
	}{Success: true, Emails: emails})
}

func (s *Server) handleCreateEmail(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := s.validator.validateTagRequest(body); err != nil {
		var received tagRequestFields
		_ = json.Unmarshal(body, &received)
		writeJSON(w, http.StatusBadRequest, struct {
			Success  bool              `json:"success"`
			Error    string            `json:"error"`
			Received tagRequestPresent `json:"received"`
		}{
			Success:  false,
			Error:    "Missing required fields",
			Received: received.present(),
		})
		return
	}

	var req helpthread.CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	rec, err := s.store.Create(req)
	if err != nil {
		if errors.Is(err, helpthread.ErrValidation) {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("create email failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Server error")
		return
	}
	s.logger.Info("email tagged",
		zap.String("emailId", rec.EmailID),
		zap.String("requester", rec.Requester),
		zap.Int("taggedPeople", len(rec.TaggedPeople)))
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		EmailID string `json:"emailId"`
	}{Success: true, EmailID: rec.EmailID})
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request, emailID string) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := s.validator.validateMessageRequest(body); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid message data")
		return
	}
	var req struct {
		Message helpthread.Message `json:"message"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	stored, err := s.store.AppendSuggestion(emailID, req.Message)
	if err != nil {
		if errors.Is(err, helpthread.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "Email not found")
			return
		}
		s.logger.Error("add message failed", zap.String("emailId", emailID), zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success   bool   `json:"success"`
		MessageID string `json:"messageId"`
	}{Success: true, MessageID: stored.ID})
}

// handleAddSuggestion serves the legacy route where the server builds the
// Message itself from a bare suggestion string.
func (s *Server) handleAddSuggestion(w http.ResponseWriter, r *http.Request, emailID string) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := s.validator.validateSuggestionRequest(body); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid suggestion data")
		return
	}
	var req struct {
		Suggestion string `json:"suggestion"`
		Author     string `json:"author"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if _, err := s.store.AppendSuggestion(emailID, helpthread.Message{
		Text:   req.Suggestion,
		Author: req.Author,
	}); err != nil {
		if errors.Is(err, helpthread.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "Email not found")
			return
		}
		s.logger.Error("add suggestion failed", zap.String("emailId", emailID), zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
	}{Success: true})
}

func (s *Server) handleListMessages(w http.ResponseWriter, emailID string) {
	rec, err := s.store.Get(emailID)
	if err != nil {
		if errors.Is(err, helpthread.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "Email not found")
			return
		}
		s.logger.Error("list messages failed", zap.String("emailId", emailID), zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Server error")
		return
	}
	messages := rec.Suggestions
	if messages == nil {
		messages = []helpthread.Message{}
	}
	writeJSON(w, http.StatusOK, struct {
		Success  bool                 `json:"success"`
		Messages []helpthread.Message `json:"messages"`
	}{Success: true, Messages: messages})
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !strings.HasPrefix(origin, extensionOriginScheme) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		writeFailure(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}

func pathParam(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Success: false, Error: message})
}

// tagRequestFields mirrors the create payload loosely enough to report which
// required fields were present on a rejected request.
type tagRequestFields struct {
	EmailData    json.RawMessage `json:"emailData"`
	TaggedPeople json.RawMessage `json:"taggedPeople"`
	Note         json.RawMessage `json:"note"`
}

type tagRequestPresent struct {
	HasEmailData    bool `json:"hasEmailData"`
	HasTaggedPeople bool `json:"hasTaggedPeople"`
	HasNote         bool `json:"hasNote"`
}

func (f tagRequestFields) present() tagRequestPresent {
	return tagRequestPresent{
		HasEmailData:    rawPresent(f.EmailData),
		HasTaggedPeople: rawPresent(f.TaggedPeople),
		HasNote:         rawPresent(f.Note),
	}
}

func rawPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
