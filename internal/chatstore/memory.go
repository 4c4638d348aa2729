package chatstore

import (
	"context"
	"sync"
	"time"

	"github.com/rahul4469/vastra-vibes/internal/models"
)

type memorySession struct {
	instruction string
	messages    []models.ChatMessage
	expiresAt   time.Time
}

// Memory is a process local store used when Redis is not configured.
// Expired sessions are dropped on access and by Run.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// session returns the live session for key. Caller holds mu.
func (s *Memory) session(key string) *memorySession {
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	if s.now().After(sess.expiresAt) {
		delete(s.sessions, key)
		return nil
	}
	return sess
}

func (s *Memory) Reset(_ context.Context, key, instruction string, messages ...models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = &memorySession{
		instruction: instruction,
		messages:    append([]models.ChatMessage(nil), messages...),
		expiresAt:   s.now().Add(s.ttl),
	}
	return nil
}

func (s *Memory) Append(_ context.Context, key string, messages ...models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(key)
	if sess == nil {
		sess = &memorySession{}
		s.sessions[key] = sess
	}
	sess.messages = append(sess.messages, messages...)
	sess.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *Memory) Messages(_ context.Context, key string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(key)
	if sess == nil {
		return nil, nil
	}
	return append([]models.ChatMessage(nil), sess.messages...), nil
}

func (s *Memory) Instruction(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess := s.session(key); sess != nil {
		return sess.instruction, nil
	}
	return "", nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Sweep drops every expired session and returns how many were removed.
func (s *Memory) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions every interval until stop is closed.
func (s *Memory) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-stop:
			return
		}
	}
}

// Len returns the number of sessions held, expired or not.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Memory) Health(context.Context) error {
	return nil
}
