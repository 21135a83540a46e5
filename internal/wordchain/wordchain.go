package wordchain

import (
	"strings"
	"sync"
	"time"
)

// FirstWord opens every new chain.
const FirstWord = "start"

// Session is one conversation's word-chain game. Players are kept in join
// order, starting with whoever opened the game.
type Session struct {
	LastWord  string
	Players   []string
	StartedAt time.Time
}

// NextLetter is the letter the next word must begin with.
func (s Session) NextLetter() string {
	w := []rune(strings.TrimSpace(s.LastWord))
	if len(w) == 0 {
		return ""
	}
	return strings.ToLower(string(w[len(w)-1]))
}

type Registry struct {
	Now func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{
		Now:      time.Now,
		sessions: make(map[string]Session),
	}
}

// Start replaces any existing session for the conversation with a fresh one
// opened by starter, who may be empty when unknown.
func (r *Registry) Start(conversationID, starter string) Session {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	s := Session{LastWord: FirstWord, StartedAt: now()}
	if starter = strings.TrimSpace(starter); starter != "" {
		s.Players = []string{starter}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = make(map[string]Session)
	}
	r.sessions[conversationID] = s
	s.Players = append([]string(nil), s.Players...)
	return s
}

func (r *Registry) Get(conversationID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[conversationID]
	if !ok {
		return Session{}, false
	}
	s.Players = append([]string(nil), s.Players...)
	return s, true
}

// Len is the number of conversations with a game.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
