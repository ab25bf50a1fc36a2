package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu            sync.RWMutex
	nextID        int64
	characters    map[int64]*Character
	conversations map[int64]*Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:        1,
		characters:    make(map[int64]*Character),
		conversations: make(map[int64]*Conversation),
	}
}

// allocID must be called with mu held.
func (s *MemoryStore) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *MemoryStore) CreateCharacter(ctx context.Context, name, persona string) (*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Character{ID: s.allocID(), Name: name, Persona: persona}
	s.characters[c.ID] = c
	out := *c
	return &out, nil
}

func (s *MemoryStore) GetCharacter(ctx context.Context, id int64) (*Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, characterID, userID int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.characters[characterID]; !ok {
		return nil, ErrNotFound
	}

	conv := &Conversation{ID: s.allocID(), CharacterID: characterID, UserID: userID}
	s.conversations[conv.ID] = conv
	return copyConversation(conv), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID int64) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, copyConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID int64, sender, content string, metadata map[string]string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	msg := Message{
		ID:        s.allocID(),
		Sender:    sender,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	conv.Messages = append(conv.Messages, msg)
	out := msg
	return &out, nil
}

func copyConversation(conv *Conversation) *Conversation {
	out := *conv
	out.Messages = make([]Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}
