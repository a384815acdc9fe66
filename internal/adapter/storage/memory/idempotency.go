package memory

import (
	"context"
	"slices"

	"github.com/rl1809/marketplace/internal/core/domain"
)

func (s *Store) Claim(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.claims[key]; ok && now.Before(c.expiresAt) {
		return c.value, false, nil
	}
	s.claims[key] = claim{expiresAt: now.Add(s.claimTTL)}
	return "", true, nil
}

func (s *Store) Complete(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.claims[key] = claim{value: value, expiresAt: s.now().Add(s.claimTTL)}
	return nil
}

func (s *Store) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, key)
	return nil
}

// Publish records the event; Events returns everything published so far.
func (s *Store) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.events)
}
