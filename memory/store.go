package memory

import (
	"strings"
	"time"
	"unicode/utf8"
)

var humorMarkers = []string{"😂", "lol"}

func NewStore(maxPhrases int) *Store {
	if maxPhrases <= 0 {
		maxPhrases = DefaultMaxPhrases
	}
	return &Store{
		Now:          time.Now,
		MaxPhrases:   maxPhrases,
		lastActive:   make(map[string]time.Time),
		phrases:      make(map[string]*phraseRing),
		participants: make(map[string]map[string]int),
	}
}

func (s *Store) RecordActivity(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(conversationID)
	s.lastActive[conversationID] = s.now()
}

// RecordParticipant bumps the participant's message counter and returns the
// new value.
func (s *Store) RecordParticipant(conversationID, participantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(conversationID)
	counts := s.participants[conversationID]
	counts[participantID]++
	return counts[participantID]
}

// MaybeLearnPhrase keeps text as a learned phrase when it is short and
// carries a humor marker. It reports whether the phrase was kept.
func (s *Store) MaybeLearnPhrase(conversationID, text string) bool {
	if !IsLearnable(text) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(conversationID)
	s.phrases[conversationID].push(text)
	return true
}

// RecentPhrases returns up to n of the newest phrases, oldest first.
func (s *Store) RecentPhrases(conversationID string, n int) []string {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.phrases[conversationID]
	if !ok {
		return nil
	}
	return ring.last(n)
}

func (s *Store) LastActive(conversationID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastActive[conversationID]
	return at, ok
}

func (s *Store) ParticipantCount(conversationID, participantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants[conversationID][participantID]
}

// IsLearnable reports whether text qualifies as a learned phrase.
func IsLearnable(text string) bool {
	if utf8.RuneCountInString(text) >= MaxPhraseRunes {
		return false
	}
	lower := strings.ToLower(text)
	for _, marker := range humorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (s *Store) ensureLocked(conversationID string) {
	if s.lastActive == nil {
		s.lastActive = make(map[string]time.Time)
	}
	if s.phrases == nil {
		s.phrases = make(map[string]*phraseRing)
	}
	if s.participants == nil {
		s.participants = make(map[string]map[string]int)
	}
	if _, ok := s.phrases[conversationID]; !ok {
		capacity := s.MaxPhrases
		if capacity <= 0 {
			capacity = DefaultMaxPhrases
		}
		s.phrases[conversationID] = newPhraseRing(capacity)
	}
	if _, ok := s.participants[conversationID]; !ok {
		s.participants[conversationID] = make(map[string]int)
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
