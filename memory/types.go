package memory

import (
	"sync"
	"time"
)

const (
	// DefaultMaxPhrases caps learned phrases kept per conversation.
	DefaultMaxPhrases = 64

	// MaxPhraseRunes is the exclusive upper bound on a learnable phrase.
	MaxPhraseRunes = 30
)

// Store is the process-lifetime conversation memory. Conversation entries are
// created lazily and never removed.
type Store struct {
	Now        func() time.Time
	MaxPhrases int

	mu           sync.Mutex
	lastActive   map[string]time.Time
	phrases      map[string]*phraseRing
	participants map[string]map[string]int
}
