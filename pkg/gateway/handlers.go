package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mushan/thinkspeak/pkg/chat"
	"github.com/mushan/thinkspeak/pkg/provider"
	"github.com/mushan/thinkspeak/pkg/store"
)

type createCharacterRequest struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

type characterResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req createCharacterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: %v", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	c, err := s.Store.CreateCharacter(r.Context(), req.Name, req.Persona)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create character: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, characterResponse{ID: store.FormatID(c.ID), Name: c.Name, Persona: c.Persona})
}

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	id, err := store.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	c, err := s.Store.GetCharacter(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "character %d not found", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get character: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, characterResponse{ID: store.FormatID(c.ID), Name: c.Name, Persona: c.Persona})
}

type createConversationRequest struct {
	CharacterID string `json:"characterId"`
	UserID      string `json:"userId"`
}

type createConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: %v", err)
		return
	}

	characterID, err := store.ParseID(req.CharacterID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	userID, err := store.ParseID(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	conv, err := s.Store.CreateConversation(r.Context(), characterID, userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "character %d not found", characterID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create conversation: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, createConversationResponse{ConversationID: store.FormatID(conv.ID)})
}

type messageView struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type conversationView struct {
	ID          string        `json:"id"`
	CharacterID string        `json:"characterId"`
	Messages    []messageView `json:"messages"`
}

func toConversationView(conv *store.Conversation) conversationView {
	view := conversationView{
		ID:          store.FormatID(conv.ID),
		CharacterID: store.FormatID(conv.CharacterID),
		Messages:    make([]messageView, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		view.Messages = append(view.Messages, messageView{
			ID:        store.FormatID(m.ID),
			Sender:    m.Sender,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return view
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := store.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	conv, err := s.Store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation %d not found", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get conversation: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationView(conv))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := store.ParseID(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	convs, err := s.Store.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list conversations: %v", err)
		return
	}

	views := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, toConversationView(conv))
	}
	writeJSON(w, http.StatusOK, views)
}

type sendMessageRequest struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

type sendMessageResponse struct {
	Reply     string `json:"reply"`
	MessageID string `json:"messageId"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// handleSendMessage is the synchronous reply path: persist the user turn,
// render the transcript, generate, persist the character turn. Generation
// failure never surfaces as an HTTP error; the fallback reply does.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	convID, err := store.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: %v", err)
		return
	}

	providerID := s.DefaultProvider
	if req.Provider != "" {
		providerID, err = provider.ParseID(req.Provider)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}

	if _, err := s.Store.AppendMessage(r.Context(), convID, store.SenderUser, req.Text, nil); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation %d not found", convID)
			return
		}
		writeError(w, http.StatusInternalServerError, "append message: %v", err)
		return
	}

	conv, err := s.Store.GetConversation(r.Context(), convID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get conversation: %v", err)
		return
	}
	character, err := s.Store.GetCharacter(r.Context(), conv.CharacterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get character: %v", err)
		return
	}

	var history strings.Builder
	for _, m := range conv.Messages {
		history.WriteString(m.Sender)
		history.WriteString(": ")
		history.WriteString(m.Content)
		history.WriteString("\n")
	}

	reply, err := s.Orchestrator.GenerateReply(r.Context(), chat.ReplyRequest{
		Persona:     character.Persona,
		History:     history.String(),
		UserMessage: req.Text,
		Provider:    providerID,
	})
	if err != nil {
		// Only an unknown provider identity reaches here.
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	msg, err := s.Store.AppendMessage(r.Context(), convID, store.SenderCharacter, reply.Text, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "append reply: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		Reply:     reply.Text,
		MessageID: store.FormatID(msg.ID),
		Fallback:  reply.Fallback,
	})
}
