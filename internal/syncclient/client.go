package syncclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpthread/helpthread/internal/helpthread"
)

const (
	defaultPingRetries = 3
	defaultPingDelay   = time.Second
	anonymousAuthor    = "anonymous"
)

type Options struct {
	// Store is the local record store. Required.
	Store *helpthread.Store
	// Remote mirrors mutations to the server; nil means offline-only.
	Remote   RemoteStore
	Identity IdentityChain
	Notifier Notifier
	Logger   *zap.Logger
	Clock    func() time.Time
	// PingRetries/PingDelay tune connectivity probing: a fixed number of
	// attempts with a fixed delay between them.
	PingRetries int
	PingDelay   time.Duration
}

// Client coordinates the local store, the remote mirror and identity
// resolution. Every mutation lands locally first; the remote write is
// best-effort and its failure is reported, not fatal.
type Client struct {
	store       *helpthread.Store
	remote      RemoteStore
	identity    IdentityChain
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
	pingRetries int
	pingDelay   time.Duration
}

func New(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	retries := opts.PingRetries
	if retries <= 0 {
		retries = defaultPingRetries
	}
	delay := opts.PingDelay
	if delay <= 0 {
		delay = defaultPingDelay
	}
	identity := opts.Identity
	if len(identity.Resolvers) == 0 {
		identity.Resolvers = []Resolver{CachedResolver{Store: opts.Store}}
	}
	if identity.Logger == nil {
		identity.Logger = logger
	}
	return &Client{
		store:       opts.Store,
		remote:      opts.Remote,
		identity:    identity,
		notifier:    notifier,
		logger:      logger,
		now:         clock,
		pingRetries: retries,
		pingDelay:   delay,
	}, nil
}

// CheckConnectivity probes the remote health endpoint with a fixed retry
// budget. False means the client should operate offline.
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	if c.remote == nil {
		return false
	}
	for attempt := 1; attempt <= c.pingRetries; attempt++ {
		if err := c.remote.Ping(ctx); err == nil {
			return true
		} else if ctx.Err() != nil {
			return false
		} else {
			c.logger.Debug("connectivity probe failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		if attempt < c.pingRetries {
			if waitWithContext(ctx, c.pingDelay) != nil {
				return false
			}
		}
	}
	return false
}

// ResolveUserEmail walks the identity chain and caches a successful result
// in the local store so the cached resolver answers next time.
func (c *Client) ResolveUserEmail(ctx context.Context) (string, error) {
	email, err := c.identity.Resolve(ctx)
	if err != nil {
		return "", err
	}
	if email != c.store.UserEmail() {
		if err := c.store.SetUserEmail(email); err != nil {
			c.logger.Warn("caching user email failed", zap.Error(err))
		}
	}
	return email, nil
}

// TagResult is the composite outcome of a dual write: the locally stored
// record plus the error, if any, of the best-effort remote mirror.
type TagResult struct {
	Email     helpthread.TaggedEmail
	RemoteErr error
}

func (c *Client) TagEmail(ctx context.Context, req TagEmailRequest) (TagResult, error) {
	requester := strings.TrimSpace(req.Requester)
	if requester == "" {
		resolved, err := c.ResolveUserEmail(ctx)
		if err != nil && !errors.Is(err, ErrNoIdentity) {
			return TagResult{}, err
		}
		requester = resolved
	}
	if requester == "" {
		requester = req.Email.From
	}

	createReq := helpthread.CreateRequest{
		Email:        req.Email,
		TaggedPeople: req.TaggedPeople,
		Note:         req.Note,
		Requester:    requester,
	}
	rec, err := c.store.Create(createReq)
	if err != nil {
		return TagResult{}, err
	}

	result := TagResult{Email: rec}
	if c.remote != nil {
		if _, remoteErr := c.remote.CreateEmail(ctx, createReq); remoteErr != nil {
			c.logger.Warn("remote mirror of tag failed",
				zap.String("emailId", rec.EmailID),
				zap.Error(remoteErr))
			result.RemoteErr = remoteErr
		}
	}

	title := "Tagged for help"
	body := fmt.Sprintf("%s asked for help on %q", displayName(requester), rec.Email.Subject)
	if err := c.notifier.Notify(ctx, title, body); err != nil {
		c.logger.Debug("notification failed", zap.Error(err))
	}
	return result, nil
}

// ListTaggedEmails is remote-first: the server copy wins and refreshes the
// local cache; when the server is unreachable the local store answers.
func (c *Client) ListTaggedEmails(ctx context.Context, userEmail string) (map[string]helpthread.TaggedEmail, error) {
	userEmail = strings.ToLower(strings.TrimSpace(userEmail))
	if userEmail == "" {
		resolved, err := c.ResolveUserEmail(ctx)
		if err != nil {
			if errors.Is(err, ErrNoIdentity) {
				return map[string]helpthread.TaggedEmail{}, nil
			}
			return nil, err
		}
		userEmail = resolved
	}

	if c.remote != nil {
		emails, err := c.remote.ListEmails(ctx, userEmail)
		if err == nil {
			for id, rec := range emails {
				if putErr := c.store.Put(id, rec); putErr != nil {
					c.logger.Warn("caching remote record failed",
						zap.String("emailId", rec.EmailID),
						zap.Error(putErr))
				}
			}
			return emails, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("remote listing failed, serving local cache",
			zap.String("userEmail", userEmail),
			zap.Error(err))
	}
	return c.store.ListForUser(userEmail)
}

// MessageResult is the dual-write outcome for a suggestion.
type MessageResult struct {
	Message   helpthread.Message
	RemoteErr error
}

func (c *Client) AddSuggestion(ctx context.Context, req AddSuggestionRequest) (MessageResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return MessageResult{}, fmt.Errorf("%w: suggestion text is required", helpthread.ErrValidation)
	}
	author := strings.TrimSpace(req.Author)
	if author == "" {
		resolved, err := c.ResolveUserEmail(ctx)
		if err != nil && !errors.Is(err, ErrNoIdentity) {
			return MessageResult{}, err
		}
		author = resolved
	}
	if author == "" {
		author = anonymousAuthor
	}

	msg := helpthread.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Author:    author,
		Timestamp: c.now().UnixMilli(),
	}
	stored, err := c.store.AppendSuggestion(req.EmailID, msg)
	if err != nil {
		return MessageResult{}, err
	}

	result := MessageResult{Message: stored}
	if c.remote != nil {
		if _, remoteErr := c.remote.AddMessage(ctx, req.EmailID, stored); remoteErr != nil {
			c.logger.Warn("remote mirror of suggestion failed",
				zap.String("emailId", req.EmailID),
				zap.Error(remoteErr))
			result.RemoteErr = remoteErr
		}
	}

	if rec, getErr := c.store.Get(req.EmailID); getErr == nil && shouldNotify(rec, author) {
		title := "New suggestion"
		body := fmt.Sprintf("%s replied on %q", displayName(author), rec.Email.Subject)
		if err := c.notifier.Notify(ctx, title, body); err != nil {
			c.logger.Debug("notification failed", zap.Error(err))
		}
	}
	return result, nil
}

func (c *Client) ClearStorage(ctx context.Context) error {
	return c.store.Clear()
}

func (c *Client) DumpStorage(ctx context.Context) helpthread.StorageSnapshot {
	return c.store.Dump()
}

// Dispatch executes one protocol message. The switch is exhaustive over the
// closed request set; the default arm only fires for a foreign
// implementation smuggled past the sealed interface.
func (c *Client) Dispatch(ctx context.Context, req Request) Response {
	switch msg := req.(type) {
	case ConnectivityCheckRequest:
		return Response{Success: true, Online: c.CheckConnectivity(ctx)}
	case TagEmailRequest:
		result, err := c.TagEmail(ctx, msg)
		if err != nil {
			return failure(err)
		}
		return Response{
			Success:     true,
			EmailID:     result.Email.EmailID,
			RemoteError: errText(result.RemoteErr),
		}
	case AddSuggestionRequest:
		result, err := c.AddSuggestion(ctx, msg)
		if err != nil {
			return failure(err)
		}
		return Response{
			Success:     true,
			MessageID:   result.Message.ID,
			RemoteError: errText(result.RemoteErr),
		}
	case GetUserEmailRequest:
		email, err := c.ResolveUserEmail(ctx)
		if err != nil && !errors.Is(err, ErrNoIdentity) {
			return failure(err)
		}
		return Response{Success: true, UserEmail: email}
	case GetTaggedEmailsRequest:
		emails, err := c.ListTaggedEmails(ctx, msg.UserEmail)
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Emails: emails}
	case ClearStorageRequest:
		if err := c.ClearStorage(ctx); err != nil {
			return failure(err)
		}
		return Response{Success: true}
	case DumpStorageRequest:
		dump := c.DumpStorage(ctx)
		return Response{Success: true, Dump: &dump}
	default:
		return Response{Success: false, Error: fmt.Sprintf("unhandled message type %q", req.Kind())}
	}
}

// shouldNotify skips the self-reply case: the first tagged person replying
// to their own thread does not need to hear about it.
func shouldNotify(rec helpthread.TaggedEmail, author string) bool {
	if len(rec.TaggedPeople) == 0 {
		return false
	}
	return !strings.EqualFold(rec.TaggedPeople[0], author)
}

func displayName(email string) string {
	if email == "" {
		return "A colleague"
	}
	return email
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
