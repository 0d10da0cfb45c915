// ABOUTME: HTTP API handlers for conversations, generation triggers, and SSE streaming
// ABOUTME: POST messages starts a turn; GET stream resumes one after reconnect

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medora/assist-gateway/internal/chat"
	"github.com/medora/assist-gateway/internal/resume"
	"github.com/medora/assist-gateway/internal/session"
	"github.com/medora/assist-gateway/internal/store"
)

// SendMessageRequest is the JSON request body for
// POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	MessageID     string   `json:"message_id,omitempty"`
	Content       string   `json:"content"`
	ModelID       string   `json:"model_id,omitempty"`
	ToolSelection []string `json:"tool_selection,omitempty"`
	Timezone      string   `json:"timezone,omitempty"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

// ConversationResponse is the JSON shape for a conversation.
type ConversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Archived  bool   `json:"archived"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ArchiveRequest is the JSON request body for POST /api/conversations/{id}/archive.
type ArchiveRequest struct {
	Archived bool `json:"archived"`
}

// MessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type MessagesResponse struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []*chat.Message `json:"messages"`
}

// ownerID resolves the request's owner identity. Single-tenant deployments
// run without the header and share one owner.
func ownerID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "local"
}

// handleConversations handles the /api/conversations collection.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListConversations(w, r)
	case http.MethodPost:
		g.handleCreateConversation(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleConversationRoutes dispatches /api/conversations/{id}[/suffix].
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	suffix := ""
	if len(parts) == 2 {
		suffix = parts[1]
	}

	switch {
	case suffix == "" && r.Method == http.MethodDelete:
		g.handleDeleteConversation(w, r, id)
	case suffix == "archive" && r.Method == http.MethodPost:
		g.handleArchiveConversation(w, r, id)
	case suffix == "messages" && r.Method == http.MethodGet:
		g.handleListMessages(w, r, id)
	case suffix == "messages" && r.Method == http.MethodPost:
		g.handleSendMessage(w, r, id)
	case suffix == "stream" && r.Method == http.MethodGet:
		g.handleStream(w, r, id)
	case suffix == "stop" && r.Method == http.MethodPost:
		g.handleStop(w, r, id)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	convs, err := g.store.ListConversations(r.Context(), ownerID(r), includeArchived)
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse(c))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now()
	conv := &chat.Conversation{
		ID:        req.ID,
		OwnerID:   ownerID(r),
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.CreateConversation(r.Context(), conv); err != nil {
		g.logger.Error("failed to create conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusCreated, conversationResponse(conv))
}

func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request, id string) {
	// Deleting a conversation mid-generation aborts the session first.
	if sess, ok := g.sessions.Active(id); ok {
		sess.Abort()
	}
	if err := g.store.DeleteConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to delete conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleArchiveConversation(w http.ResponseWriter, r *http.Request, id string) {
	var req ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := g.store.SetConversationArchived(r.Context(), id, req.Archived); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to archive conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]bool{"archived": req.Archived})
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request, id string) {
	msgs, err := g.store.FindMessagesByConversation(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to list messages", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	g.sendJSON(w, http.StatusOK, MessagesResponse{ConversationID: id, Messages: msgs})
}

// handleSendMessage triggers a generation turn and streams its output as
// SSE. The conversation is created on the first user turn if it does not
// exist yet.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request, conversationID string) {
	req, err := parseSendRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	firstTurn, err := g.ensureConversation(r.Context(), conversationID, ownerID(r))
	if err != nil {
		g.logger.Error("failed to ensure conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = g.config.Model.Default
	}

	userMsg := &chat.Message{
		ID:             req.MessageID,
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Parts:          []chat.Part{chat.TextPart(req.Content)},
		CreatedAt:      time.Now(),
	}
	if userMsg.ID == "" {
		userMsg.ID = uuid.New().String()
	}

	sess, err := g.runner.Generate(r.Context(), session.GenerateRequest{
		ConversationID: conversationID,
		UserMessage:    userMsg,
		Model:          modelID,
		ToolSelection:  req.ToolSelection,
		Timezone:       req.Timezone,
	})
	if err != nil {
		if errors.Is(err, session.ErrConflict) {
			g.sendJSONError(w, http.StatusConflict, "a generation is already in progress")
			return
		}
		g.logger.Error("failed to start generation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if firstTurn {
		go g.generateTitle(conversationID, req.Content)
	}

	g.setSSEHeaders(w)
	g.writeSSEEvent(w, "started", map[string]string{
		"stream_id":  sess.ID(),
		"message_id": sess.Message().ID,
	})
	flusher.Flush()

	g.streamSession(r.Context(), w, flusher, sess, 0)
}

// handleStream re-attaches a reconnecting client. The offset query
// parameter is the number of events the client has already processed;
// last_message_id is the id of the last message it already holds, used to
// suppress replay of a finished turn the client has.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request, conversationID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		offset = parsed
	}

	att, err := g.resumer.Resume(r.Context(), conversationID, r.URL.Query().Get("last_message_id"))
	if err != nil {
		g.logger.Error("failed to resolve resume", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.setSSEHeaders(w)

	switch att.Decision {
	case resume.DecisionLive:
		g.writeSSEEvent(w, "started", map[string]string{"stream_id": att.StreamID})
		flusher.Flush()
		g.streamSession(r.Context(), w, flusher, att.Session, offset)

	case resume.DecisionFinished:
		g.writeSSEEvent(w, "append-message", map[string]any{
			"type":    "append-message",
			"message": att.Message,
		})
		g.writeSSEEvent(w, "done", map[string]string{})
		flusher.Flush()

	default:
		g.writeSSEEvent(w, "done", map[string]string{})
		flusher.Flush()
	}
}

// handleStop aborts the conversation's running session. Advisory: already
// dispatched tool calls complete and land in the persisted message.
func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request, conversationID string) {
	sess, ok := g.sessions.Active(conversationID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "no generation in progress")
		return
	}
	sess.Abort()
	g.sendJSON(w, http.StatusOK, map[string]string{"status": string(session.StatusAborted)})
}

// streamSession writes a session's events as SSE until the stream drains
// or the client goes away. A disconnect only detaches this consumer;
// generation continues server-side.
func (g *Gateway) streamSession(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sess *session.Session, offset int) {
	events := sess.Subscribe(ctx, offset)
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSessionEvent(w, ev)
			flusher.Flush()
			if ev.Type == session.EventTypeDone {
				return
			}
		}
	}
}

// writeSessionEvent maps a session event to its SSE wire shape.
func (g *Gateway) writeSessionEvent(w http.ResponseWriter, ev session.Event) {
	switch ev.Type {
	case session.EventTypeText, session.EventTypeReasoning, session.EventTypeToolInvocation:
		g.writeSSEEvent(w, string(ev.Type), ev.Part)
	case session.EventTypeAppendMessage:
		g.writeSSEEvent(w, string(ev.Type), map[string]any{
			"type":    "append-message",
			"message": ev.Message,
		})
	case session.EventTypeError:
		g.writeSSEEvent(w, string(ev.Type), map[string]string{"error": ev.Error})
	case session.EventTypeDone:
		g.writeSSEEvent(w, string(ev.Type), map[string]int{"offset": ev.Offset})
	}
}

// ensureConversation creates the conversation on the first user turn.
// Returns whether this is the conversation's first turn, so the caller can
// kick off title generation.
func (g *Gateway) ensureConversation(ctx context.Context, id, owner string) (bool, error) {
	conv, err := g.store.GetConversation(ctx, id)
	if err == nil {
		if conv.Title != "" {
			return false, nil
		}
		msgs, err := g.store.FindMessagesByConversation(ctx, id)
		if err != nil {
			return false, err
		}
		return len(msgs) == 0, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	now := time.Now()
	if err := g.store.CreateConversation(ctx, &chat.Conversation{
		ID:        id,
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// generateTitle names a conversation from its first user message.
func (g *Gateway) generateTitle(conversationID, userContent string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	title, err := g.provider.GenerateTitle(ctx, userContent)
	if err != nil {
		g.logger.Warn("title generation failed",
			"conversation_id", conversationID,
			"error", err)
		return
	}
	if err := g.store.SetConversationTitle(ctx, conversationID, title); err != nil {
		g.logger.Warn("failed to save conversation title",
			"conversation_id", conversationID,
			"error", err)
	}
}

func (g *Gateway) setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}

func conversationResponse(c *chat.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		Archived:  c.Archived,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

// parseSendRequest parses and validates a SendMessageRequest.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("content is required")
	}
	return &req, nil
}
