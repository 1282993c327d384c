package helpthread

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSweepInterval = 24 * time.Hour
	defaultMaxRecordAge  = 7 * 24 * time.Hour
	defaultNotifyMethod  = "log"
)

// EventType enumerates store change notifications.
type EventType string

const (
	EventEmailTagged     EventType = "email.tagged"
	EventSuggestionAdded EventType = "suggestion.added"
	EventEmailPruned     EventType = "email.pruned"
	EventStorageCleared  EventType = "storage.cleared"
)

// Event is published to subscribers after a successful mutation.
type Event struct {
	Type      EventType `json:"type"`
	EmailID   string    `json:"emailId,omitempty"`
	Author    string    `json:"author,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type StoreOptions struct {
	// StateFile is shorthand for a JSON file backend at the given path.
	StateFile string
	// StateBackend takes precedence over StateFile when both are set.
	StateBackend StateBackend
	// SweepInterval controls how often records older than MaxRecordAge are
	// pruned. Zero values fall back to once a day / one week.
	SweepInterval  time.Duration
	MaxRecordAge   time.Duration
	DisableSweeper bool
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Store is the keyed record store for TaggedEmail records. Replacement is
// atomic at key granularity; there is no cross-record atomicity and the last
// writer wins.
type Store struct {
	mu      sync.RWMutex
	records map[string]TaggedEmail

	userEmail string
	settings  HelperSettings

	stateBackend  StateBackend
	sweepInterval time.Duration
	maxRecordAge  time.Duration
	now           func() time.Time

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{DisableSweeper: true})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	maxRecordAge := opts.MaxRecordAge
	if maxRecordAge <= 0 {
		maxRecordAge = defaultMaxRecordAge
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	stateBackend := opts.StateBackend
	if stateBackend == nil && strings.TrimSpace(opts.StateFile) != "" {
		stateBackend = NewJSONFileStateBackend(opts.StateFile)
	}

	s := &Store{
		records:       map[string]TaggedEmail{},
		settings:      HelperSettings{NotificationMethod: defaultNotifyMethod},
		stateBackend:  stateBackend,
		sweepInterval: sweepInterval,
		maxRecordAge:  maxRecordAge,
		now:           clock,
		subs:          map[int]chan Event{},
		closed:        make(chan struct{}),
	}
	_ = s.loadFromBackend()
	if !opts.DisableSweeper {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sweeper()
		}()
	}
	return s
}

// Close stops the sweeper and releases the state backend if it holds
// resources. The store stays readable afterwards.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.wg.Wait()
	if closer, ok := s.stateBackend.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

// GetAll returns a copy of every stored record.
func (s *Store) GetAll() (map[string]TaggedEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]TaggedEmail, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.clone()
	}
	return out, nil
}

func (s *Store) Get(emailID string) (TaggedEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[emailID]
	if !ok {
		return TaggedEmail{}, ErrNotFound
	}
	return rec.clone(), nil
}

// Put upserts a whole record under emailID. No merge semantics: any prior
// record with the same id is replaced.
func (s *Store) Put(emailID string, rec TaggedEmail) error {
	if strings.TrimSpace(emailID) == "" {
		return fmt.Errorf("%w: email id is required", ErrValidation)
	}
	rec.EmailID = emailID
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.records[emailID]
	s.records[emailID] = rec.clone()
	if err := s.saveLocked(); err != nil {
		if existed {
			s.records[emailID] = prev
		} else {
			delete(s.records, emailID)
		}
		return err
	}
	return nil
}

// Create mints a new TaggedEmail with a fresh id, pending status and an
// empty suggestion thread.
func (s *Store) Create(req CreateRequest) (TaggedEmail, error) {
	if err := req.validate(); err != nil {
		return TaggedEmail{}, err
	}
	now := s.now()
	rec := TaggedEmail{
		EmailID:      NewEmailID(req.Email.Subject, now),
		Email:        req.Email,
		TaggedPeople: append([]string(nil), req.TaggedPeople...),
		Note:         req.Note,
		Requester:    req.Requester,
		Status:       StatusPending,
		Timestamp:    now.UnixMilli(),
		Suggestions:  []Message{},
	}

	s.mu.Lock()
	s.records[rec.EmailID] = rec.clone()
	if err := s.saveLocked(); err != nil {
		delete(s.records, rec.EmailID)
		s.mu.Unlock()
		return TaggedEmail{}, err
	}
	s.mu.Unlock()

	s.publish(Event{Type: EventEmailTagged, EmailID: rec.EmailID, Author: rec.Requester, Timestamp: rec.Timestamp})
	return rec, nil
}

// AppendSuggestion appends msg to the record's suggestion thread. This is
// the only mutation of an existing record; prior entries are never reordered
// or dropped. A zero timestamp is filled from the store clock, a missing id
// with a fresh uuid.
func (s *Store) AppendSuggestion(emailID string, msg Message) (Message, error) {
	if msg.Timestamp == 0 {
		msg.Timestamp = s.now().UnixMilli()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	s.mu.Lock()
	rec, ok := s.records[emailID]
	if !ok {
		s.mu.Unlock()
		return Message{}, ErrNotFound
	}
	prior := rec.Suggestions
	rec.Suggestions = append(append([]Message(nil), prior...), msg)
	s.records[emailID] = rec
	if err := s.saveLocked(); err != nil {
		rec.Suggestions = prior
		s.records[emailID] = rec
		s.mu.Unlock()
		return Message{}, err
	}
	s.mu.Unlock()

	s.publish(Event{Type: EventSuggestionAdded, EmailID: emailID, Author: msg.Author, Timestamp: msg.Timestamp})
	return msg, nil
}

// ListForUser returns records visible to userEmail: those the user requested
// or is tagged on, matched case-insensitively. An empty store yields an
// empty map.
func (s *Store) ListForUser(userEmail string) (map[string]TaggedEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]TaggedEmail{}
	for id, rec := range s.records {
		if rec.VisibleTo(userEmail) {
			out[id] = rec.clone()
		}
	}
	return out, nil
}

// Stats returns the record count and total suggestion count.
func (s *Store) Stats() (tagged, suggestions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		suggestions += len(rec.Suggestions)
	}
	return len(s.records), suggestions
}

// Clear removes every record. Irreversible. The cached user address and
// settings survive.
func (s *Store) Clear() error {
	s.mu.Lock()
	prev := s.records
	s.records = map[string]TaggedEmail{}
	if err := s.saveLocked(); err != nil {
		s.records = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(Event{Type: EventStorageCleared, Timestamp: s.now().UnixMilli()})
	return nil
}

// UserEmail returns the cached user address, or "" when none is cached.
func (s *Store) UserEmail() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userEmail
}

func (s *Store) SetUserEmail(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.userEmail
	s.userEmail = strings.TrimSpace(addr)
	if err := s.saveLocked(); err != nil {
		s.userEmail = prev
		return err
	}
	return nil
}

func (s *Store) Settings() HelperSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) SetSettings(settings HelperSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.settings
	s.settings = settings
	if err := s.saveLocked(); err != nil {
		s.settings = prev
		return err
	}
	return nil
}

// Dump returns the whole persisted area. Diagnostic use only.
func (s *Store) Dump() StorageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.snapshotLocked()
}

// Subscribe registers a change listener. Events are dropped rather than
// blocking a slow subscriber. The returned cancel func must be called.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 16)
	s.subs[id] = ch
	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SweepOnce prunes records older than the configured max age and reports how
// many were removed.
func (s *Store) SweepOnce() (int, error) {
	cutoff := s.now().Add(-s.maxRecordAge).UnixMilli()

	s.mu.Lock()
	pruned := make([]string, 0)
	for id, rec := range s.records {
		if rec.Timestamp < cutoff {
			pruned = append(pruned, id)
		}
	}
	if len(pruned) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	removed := make(map[string]TaggedEmail, len(pruned))
	for _, id := range pruned {
		removed[id] = s.records[id]
		delete(s.records, id)
	}
	if err := s.saveLocked(); err != nil {
		for id, rec := range removed {
			s.records[id] = rec
		}
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	now := s.now().UnixMilli()
	for _, id := range pruned {
		s.publish(Event{Type: EventEmailPruned, EmailID: id, Timestamp: now})
	}
	return len(pruned), nil
}

func (s *Store) sweeper() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			_, _ = s.SweepOnce()
		}
	}
}

func (s *Store) snapshotLocked() *StorageSnapshot {
	records := make(map[string]TaggedEmail, len(s.records))
	for id, rec := range s.records {
		records[id] = rec.clone()
	}
	return &StorageSnapshot{
		TaggedEmails: records,
		UserEmail:    s.userEmail,
		Settings:     s.settings,
	}
}

func (s *Store) saveLocked() error {
	if s.stateBackend == nil {
		return nil
	}
	if err := s.stateBackend.Save(s.snapshotLocked()); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *Store) loadFromBackend() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot, err := s.stateBackend.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if snapshot == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot.TaggedEmails != nil {
		s.records = snapshot.TaggedEmails
	}
	s.userEmail = snapshot.UserEmail
	if snapshot.Settings.NotificationMethod != "" {
		s.settings = snapshot.Settings
	}
	return nil
}
