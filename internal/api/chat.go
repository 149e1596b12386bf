package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/identity"
	"github.com/ashureev/goally/internal/orchestrator"
	"github.com/ashureev/goally/internal/stream"
)

const (
	maxMessageLength  = 4000
	sseKeepalive      = 15 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsReadLimit       = 64 << 10
	errMessageMissing = "message is required"
)

// ChatRequest is the body of a chat turn.
type ChatRequest struct {
	Message     string              `json:"message"`
	UserProfile *domain.UserProfile `json:"user_profile,omitempty"`
}

func (req ChatRequest) validate() error {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return invalidInput(errMessageMissing)
	}
	if len(msg) > maxMessageLength {
		return invalidInput("message exceeds %d characters", maxMessageLength)
	}
	return nil
}

func (h *Handler) turnRequest(r *http.Request, req ChatRequest) orchestrator.TurnRequest {
	return orchestrator.TurnRequest{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
		Message:   strings.TrimSpace(req.Message),
		Profile:   req.UserProfile,
	}
}

// readChat decodes and validates a chat body, enforcing the per-user rate
// limit. It writes the error response itself and reports whether to go on.
// A profile override is validated here but only saved once the turn succeeds.
func (h *Handler) readChat(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return req, false
	}
	if !h.rateLimiter.Allow(userID) {
		h.writeError(w, r, "chat", domain.ErrRateLimited)
		return req, false
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "chat", err)
		return req, false
	}
	if err := req.validate(); err != nil {
		h.writeError(w, r, "chat", err)
		return req, false
	}
	if err := prepareProfile(userID, req.UserProfile); err != nil {
		h.writeError(w, r, "chat", err)
		return req, false
	}
	return req, true
}

// Chat handles POST /api/chat: one turn with a JSON result.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readChat(w, r)
	if !ok {
		return
	}
	turn := h.turnRequest(r, req)
	h.logger.Info("Chat request",
		"user_id", turn.UserID,
		"session_id", turn.SessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(turn.Message))

	result, err := h.orch.HandleTurn(r.Context(), turn, nil)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.writeError(w, r, "chat", err)
		return
	}
	h.saveProfileOverride(r.Context(), turn)
	JSON(w, http.StatusOK, result)
}

// ChatStream handles POST /api/chat/stream: one turn as server-sent events.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readChat(w, r)
	if !ok {
		return
	}
	turn := h.turnRequest(r, req)

	sw, err := stream.NewWriter(w)
	if err != nil {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	h.logger.Info("Chat stream opened",
		"user_id", turn.UserID,
		"session_id", turn.SessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go keepalive(ctx, sw)

	sent := 0
	_, err = h.orch.HandleTurn(ctx, turn, func(ev stream.Event) {
		if sendErr := sw.Send(ev); sendErr != nil {
			h.logger.Warn("Failed to write stream event", "type", ev.Type, "error", sendErr)
			cancel()
			return
		}
		sent++
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Debug("Chat stream ended with error", "session_id", turn.SessionID, "events", sent, "error", err)
		}
		return
	}
	h.saveProfileOverride(r.Context(), turn)
}

func keepalive(ctx context.Context, sw *stream.Writer) {
	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sw.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}

// ChatWebSocket handles GET /api/chat/ws. Each text message is one turn;
// its events come back as JSON text frames.
func (h *Handler) ChatWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request",
		"user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(wsReadLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sessions.Register(userID, sessionID, ws)
	defer h.sessions.Unregister(userID, sessionID, ws)

	ctx := r.Context()
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		req := parseWSMessage(message)
		if err := req.validate(); err != nil {
			var de *domain.Error
			if errors.As(err, &de) {
				h.writeWS(ctx, ws, stream.Error(string(de.Kind), de.Message))
			}
			continue
		}
		if !h.rateLimiter.Allow(userID) {
			h.writeWS(ctx, ws, stream.Error(string(domain.KindRateLimited), domain.UserMessage(domain.ErrRateLimited)))
			continue
		}

		if err := prepareProfile(userID, req.UserProfile); err != nil {
			h.writeWS(ctx, ws, stream.Error(string(domain.KindOf(err)), domain.UserMessage(err)))
			continue
		}

		turn := h.turnRequest(r, req)
		_, err = h.orch.HandleTurn(ctx, turn, func(ev stream.Event) {
			h.writeWS(ctx, ws, ev)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		h.saveProfileOverride(ctx, turn)
	}
}

// prepareProfile normalizes and validates a profile sent along with a chat
// message.
func prepareProfile(userID string, p *domain.UserProfile) error {
	if p == nil {
		return nil
	}
	p.UserID = userID
	p.Normalize()
	return validateProfile(p)
}

// saveProfileOverride persists the profile of a successful turn so that
// later turns keep using it. The turn already succeeded, so a failure is
// only logged.
func (h *Handler) saveProfileOverride(ctx context.Context, turn orchestrator.TurnRequest) {
	if turn.Profile == nil {
		return
	}
	if err := h.repo.UpsertProfile(context.WithoutCancel(ctx), turn.Profile); err != nil {
		h.logger.Error("Failed to save profile override", "user_id", turn.UserID, "error", err)
	}
}

// parseWSMessage accepts a ChatRequest object or plain text.
func parseWSMessage(raw []byte) ChatRequest {
	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err == nil && req.Message != "" {
		return req
	}
	return ChatRequest{Message: string(raw)}
}

func (h *Handler) writeWS(ctx context.Context, ws *websocket.Conn, ev stream.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("Failed to marshal stream event", "type", ev.Type, "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write failed", "type", ev.Type, "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigin, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
