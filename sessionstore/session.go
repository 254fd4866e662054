// Package sessionstore implements the Conversation Session Store (spec §3,
// §4.6's cumulative_tokens event): an ordered message log per session-id
// plus monotonically-updated token/cost totals that are the sole source of
// truth for client-facing reporting.
package sessionstore

import (
	"sync"
	"time"

	"github.com/orcaforge/fleet/errs"
)

// MessageKind tags a message's role in the conversation.
type MessageKind string

const (
	MessageUser        MessageKind = "user"
	MessageAssistant   MessageKind = "assistant"
	MessageError       MessageKind = "error"
	MessageAgentStatus MessageKind = "agent-status"
)

// AgentStatusKind further tags a MessageAgentStatus message.
type AgentStatusKind string

const (
	StatusIterationStart AgentStatusKind = "iteration-start"
	StatusAgentReasoning AgentStatusKind = "agent-reasoning"
	StatusToolExecution  AgentStatusKind = "tool-execution"
	StatusToolResult     AgentStatusKind = "tool-result"
	StatusAgentAnswer    AgentStatusKind = "agent-answer"
	StatusAgentComplete  AgentStatusKind = "agent-complete"
)

// Message is one entry in a session's ordered log.
type Message struct {
	Kind       MessageKind
	StatusKind AgentStatusKind // set only when Kind == MessageAgentStatus
	Content    string
	Timestamp  time.Time
}

// Session is one conversation's durable state: its message log and
// cumulative token/cost counters.
type Session struct {
	ID    string
	Title string

	mu               sync.RWMutex
	messages         []Message
	cumInputTokens   int
	cumOutputTokens  int
	cumCost          float64
	lastUpdated      time.Time
}

// Append adds a message to the log and bumps LastUpdated.
func (s *Session) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.messages = append(s.messages, m)
	s.lastUpdated = m.Timestamp
}

// Messages returns a snapshot copy of the ordered log.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// AddUsage atomically increments the cumulative token/cost counters —
// the Session Store is their sole source of truth; clients never
// recompute them (spec §3's conversation-session invariant).
func (s *Session) AddUsage(inputTokens, outputTokens int, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumInputTokens += inputTokens
	s.cumOutputTokens += outputTokens
	s.cumCost += cost
}

// Totals returns the current cumulative usage counters.
func (s *Session) Totals() (inputTokens, outputTokens int, cost float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cumInputTokens, s.cumOutputTokens, s.cumCost
}

// LastUpdated returns the timestamp of the most recently appended message.
func (s *Session) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// Store is the process-wide, concurrently-readable Session Store; writes
// are serialized per session (spec §5's concurrency model).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create starts a new session with the given id and title. Returns a
// configuration-error if id is already in use.
func (st *Store) Create(id, title string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.sessions[id]; exists {
		return nil, errs.New("sessionstore", "create", errs.KindConfigurationError,
			"session id already exists: "+id, nil)
	}
	sess := &Session{ID: id, Title: title, lastUpdated: time.Now()}
	st.sessions[id] = sess
	return sess, nil
}

// GetOrCreate returns the session for id, creating it (with an empty
// title) if it doesn't already exist — the common path for a run request
// that supplies a session-id without having called Create first.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[id]; ok {
		return sess
	}
	sess := &Session{ID: id, lastUpdated: time.Now()}
	st.sessions[id] = sess
	return sess
}

// Get retrieves an existing session.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, errs.New("sessionstore", "get", errs.KindConfigurationError,
			"no session with id "+id, nil)
	}
	return sess, nil
}

// Delete removes a session from the store.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// List returns every known session-id.
func (st *Store) List() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		out = append(out, id)
	}
	return out
}
