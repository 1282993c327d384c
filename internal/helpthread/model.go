package helpthread

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("email not found")
	ErrValidation = errors.New("invalid input")
	ErrStorage    = errors.New("storage failure")
)

// StatusPending is the only status ever produced. The field exists on the
// wire but no transition logic is implemented.
const StatusPending = "pending"

// EmailSnapshot is captured once when a thread is tagged and never updated
// afterwards.
type EmailSnapshot struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Message is a threaded reply attached to a tagged email. ID is set for
// messages minted by the protocol client and may be absent on entries
// created through the legacy suggestions route.
type Message struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
}

// TaggedEmail is one help request: an immutable email snapshot, the people
// asked for help, and an append-only suggestion thread.
type TaggedEmail struct {
	EmailID      string        `json:"emailId"`
	Email        EmailSnapshot `json:"email"`
	TaggedPeople []string      `json:"taggedPeople"`
	Note         string        `json:"note"`
	Requester    string        `json:"requester"`
	Status       string        `json:"status"`
	Timestamp    int64         `json:"timestamp"`
	Suggestions  []Message     `json:"suggestions"`
}

// VisibleTo reports whether userEmail may see this record: the requester and
// every tagged person, matched case-insensitively.
func (e TaggedEmail) VisibleTo(userEmail string) bool {
	userEmail = strings.TrimSpace(userEmail)
	if userEmail == "" {
		return false
	}
	if strings.EqualFold(e.Requester, userEmail) {
		return true
	}
	for _, person := range e.TaggedPeople {
		if strings.EqualFold(person, userEmail) {
			return true
		}
	}
	return false
}

func (e TaggedEmail) clone() TaggedEmail {
	out := e
	if e.TaggedPeople != nil {
		out.TaggedPeople = append([]string(nil), e.TaggedPeople...)
	}
	if e.Suggestions != nil {
		out.Suggestions = append([]Message(nil), e.Suggestions...)
	}
	return out
}

// NewEmailID keeps the historical {subject}-{millis} prefix so existing
// clients can still eyeball ids, and appends a uuid fragment so two tags of
// the same subject within one millisecond cannot collide.
func NewEmailID(subject string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", subject, now.UnixMilli(), uuid.NewString()[:8])
}

// CreateRequest carries everything needed to mint a new TaggedEmail.
type CreateRequest struct {
	Email        EmailSnapshot `json:"emailData"`
	TaggedPeople []string      `json:"taggedPeople"`
	Note         string        `json:"note"`
	Requester    string        `json:"requester"`
}

func (r CreateRequest) validate() error {
	hasPerson := false
	for _, person := range r.TaggedPeople {
		if strings.TrimSpace(person) != "" {
			hasPerson = true
			break
		}
	}
	if !hasPerson {
		return fmt.Errorf("%w: at least one tagged person is required", ErrValidation)
	}
	return nil
}

// HelperSettings mirrors the persisted extension settings blob.
type HelperSettings struct {
	NotificationMethod string `json:"notificationMethod"`
}

// StorageSnapshot is the full persisted key-value area: records, the cached
// user address and the helper settings.
type StorageSnapshot struct {
	TaggedEmails map[string]TaggedEmail `json:"taggedEmails"`
	UserEmail    string                 `json:"userEmail"`
	Settings     HelperSettings         `json:"helperSettings"`
}
