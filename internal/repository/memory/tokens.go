package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/magiclink"
)

// Tokens is an in-memory login token store.
type Tokens struct {
	mu     sync.Mutex
	tokens map[string]domain.LoginToken
}

func NewTokens() *Tokens {
	return &Tokens{tokens: make(map[string]domain.LoginToken)}
}

func (s *Tokens) Create(_ context.Context, t *domain.LoginToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tokens[t.Token]; dup {
		return fmt.Errorf("duplicate token")
	}
	s.tokens[t.Token] = *t
	return nil
}

func (s *Tokens) Consume(_ context.Context, token string) (*domain.LoginToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, magiclink.ErrInvalidToken
	}
	delete(s.tokens, token)
	return &t, nil
}

func (s *Tokens) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens. Test helper.
func (s *Tokens) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Peek returns a stored token without consuming it. Test helper.
func (s *Tokens) Peek(token string) (domain.LoginToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	return t, ok
}
