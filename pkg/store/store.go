// Package store defines the conversation/character persistence collaborator
// consumed by the gateway, plus an in-memory implementation for tests and
// local runs. Durable storage itself lives in an external service.
package store

import (
	"context"
	"errors"
	"time"
)

// Sender tags for conversation messages.
const (
	SenderUser      = "USER"
	SenderCharacter = "CHARACTER"
)

// ErrNotFound is returned when an identifier resolves to nothing.
var ErrNotFound = errors.New("store: not found")

// Character is a chat persona definition.
type Character struct {
	ID      int64
	Name    string
	Persona string
}

// Message is one turn of a conversation.
type Message struct {
	ID        int64
	Sender    string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Conversation is an ordered transcript bound to a character and a user.
type Conversation struct {
	ID          int64
	CharacterID int64
	UserID      int64
	Messages    []Message
}

// Store is the persistence collaborator contract.
type Store interface {
	CreateCharacter(ctx context.Context, name, persona string) (*Character, error)
	GetCharacter(ctx context.Context, id int64) (*Character, error)

	CreateConversation(ctx context.Context, characterID, userID int64) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]*Conversation, error)

	AppendMessage(ctx context.Context, conversationID int64, sender, content string, metadata map[string]string) (*Message, error)
}
