package conversation

import (
	"fmt"
	"sync"

	"github.com/meshgate/meshgate/core"
)

// InMemoryStore is a volatile ConversationStore implementation storing
// conversations in a process local map. It is safe for concurrent access and
// best suited for tests or single-process gateways.
//
// Get returns the live *core.Conversation rather than a copy: a conversation
// serializes its own mutations behind an internal mutex, and handing every
// caller the same instance is what guarantees no lost updates between the
// manager and the router. List returns clones since listings are read-only
// views.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*core.Conversation)}
}

// Create stores a new conversation, rejecting duplicate ids.
func (s *InMemoryStore) Create(conv *core.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	s.conversations[conv.ID] = conv
	return nil
}

// Get returns the live conversation for id.
func (s *InMemoryStore) Get(id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return conv, nil
}

// Save installs the conversation, creating or replacing the entry. For the
// in-memory store this is effectively an upsert of the live pointer.
func (s *InMemoryStore) Save(conv *core.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

// List returns clones of all conversations.
func (s *InMemoryStore) List() ([]*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.Clone())
	}
	return out, nil
}

// Delete removes a conversation. Deleting an unknown id is not an error.
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}
