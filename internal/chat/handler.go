package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"chat-relay/internal/apperrors"
	"chat-relay/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

type HandlerOptions struct {
	SendBuffer     int
	MaxMessageSize int64
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

type Handler struct {
	// ctx outlives individual requests; connections are bound to it.
	ctx      context.Context
	registry *Registry
	sender   Sender
	store    Store
	upgrader websocket.Upgrader
	opts     HandlerOptions
	log      zerolog.Logger
}

func NewHandler(ctx context.Context, registry *Registry, sender Sender, store Store, opts HandlerOptions, log zerolog.Logger) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 8 << 20
	}
	allowed := lo.SliceToMap(opts.AllowedOrigins, func(o string) (string, struct{}) {
		return o, struct{}{}
	})

	return &Handler{
		ctx:      ctx,
		registry: registry,
		sender:   sender,
		store:    store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		opts: opts,
		log:  log.With().Str("component", "chat_handler").Logger(),
	}
}

// Routes returns the REST surface, meant to be mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/chats", func(r chi.Router) {
		r.Post("/messages", h.PostMessage)
		r.Patch("/messages/{id}/status", h.UpdateMessageStatus)
		r.Get("/{senderId}/{receiverId}", h.GetChatHistory)
		r.Get("/{userId}", h.GetConversations)
	})
	r.Route("/notification", func(r chi.Router) {
		r.Get("/{userId}", h.GetNotifications)
		r.Patch("/{id}/read", h.MarkNotificationRead)
	})
	return r
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h.registry, h.sender, h.opts.SendBuffer, h.opts.MaxMessageSize, h.log)
	h.log.Info().Str("remote_addr", r.RemoteAddr).Msg("connection opened")

	go client.WritePump()
	go client.ReadPump(h.ctx)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.registry.Len(),
	})
}

type pagination struct {
	Total      int `json:"total"`
	Limit      int `json:"limit"`
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
}

func newPagination(total, page, limit int) pagination {
	return pagination{
		Total:      total,
		Limit:      limit,
		Page:       page,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}
}

// parsePage reads ?page= (1-based) and ?limit=, using fallback when no limit
// is given.
func parsePage(q url.Values, fallback int) (int, int, Page, error) {
	page, limit := 1, fallback
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, Page{}, apperrors.BadRequest("page must be a positive integer")
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, Page{}, apperrors.BadRequest("limit must be a positive integer")
		}
		limit = lo.Clamp(n, 1, maxLimit)
	}
	return page, limit, Page{Skip: (page - 1) * limit, Limit: limit}, nil
}

func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	filter := MessageFilter{
		UserA: chi.URLParam(r, "senderId"),
		UserB: chi.URLParam(r, "receiverId"),
	}
	page, limit, window, err := parsePage(r.URL.Query(), defaultLimit)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	messages, err := h.store.FindMessages(r.Context(), filter, window)
	if err != nil {
		h.fail(w, err, "fetch chat history")
		return
	}
	total, err := h.store.CountMessages(r.Context(), filter)
	if err != nil {
		h.fail(w, err, "count chat history")
		return
	}

	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"messages":   messages,
		"pagination": newPagination(total, page, limit),
	})
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	page, limit, window, err := parsePage(r.URL.Query(), defaultLimit)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	conversations, total, err := h.store.ListConversations(r.Context(), chi.URLParam(r, "userId"), window)
	if err != nil {
		h.fail(w, err, "list conversations")
		return
	}

	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       conversations,
		"pagination": newPagination(total, page, limit),
	})
}

// PostMessage sends a message through the same router as the socket path.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.opts.MaxMessageSize))
	if err != nil {
		apperrors.WriteError(w, apperrors.ErrInvalidRequest)
		return
	}
	req, err := DecodeSendMessage(body)
	if err != nil {
		apperrors.WriteError(w, apperrors.BadRequest(err.Error()))
		return
	}

	// Behind the auth middleware a caller may only send as itself.
	if userID, ok := middleware.UserID(r.Context()); ok && userID != req.SenderID {
		apperrors.WriteError(w, apperrors.Forbidden("senderId does not match the authenticated user"))
		return
	}

	receipt, err := h.sender.Send(r.Context(), req)
	switch {
	case errors.Is(err, ErrUpload):
		h.log.Error().Err(err).Msg("rest send: upload")
		apperrors.WriteError(w, apperrors.Internal("Attachment upload failed"))
		return
	case err != nil:
		h.fail(w, err, "rest send")
		return
	}

	apperrors.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Message sent",
		"data":    receipt.Message,
		"route":   receipt.Route,
	})
}

func (h *Handler) UpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid message id"))
		return
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperrors.WriteError(w, apperrors.ErrInvalidRequest)
		return
	}

	err = h.store.UpdateMessageStatus(r.Context(), id, body.Status)
	switch {
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrStatusRegression):
		apperrors.WriteError(w, apperrors.BadRequest(err.Error()))
		return
	case errors.Is(err, ErrNotFound):
		apperrors.WriteError(w, apperrors.NotFound("Message not found"))
		return
	case err != nil:
		h.fail(w, err, "update message status")
		return
	}

	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Status updated",
	})
}

func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	// Notifications are listed in one go unless the caller pages explicitly.
	_, _, window, err := parsePage(r.URL.Query(), maxLimit)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	notifications, err := h.store.FindNotifications(r.Context(), chi.URLParam(r, "userId"), window)
	if err != nil {
		h.fail(w, err, "fetch notifications")
		return
	}
	if len(notifications) == 0 {
		apperrors.WriteError(w, apperrors.NotFound("No notifications found for this user"))
		return
	}

	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"notifications": notifications,
	})
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid notification id"))
		return
	}

	err = h.store.MarkNotificationRead(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		apperrors.WriteError(w, apperrors.NotFound("Notification not found"))
		return
	}
	if err != nil {
		h.fail(w, err, "mark notification read")
		return
	}

	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Marked as read",
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error, op string) {
	h.log.Error().Err(err).Str("op", op).Msg("request failed")
	apperrors.WriteError(w, apperrors.ErrInternalServer)
}
