package messaging

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"communicator/cmd/identity"
	"communicator/cmd/internal/httpx"
	v1 "communicator/shared/contracts/messaging/v1"
)

// Handler serves the message sync endpoints.
type Handler struct {
	log          *slog.Logger
	svc          *Service
	maxBodyBytes int64
	now          func() time.Time
}

// NewHandler constructs a Handler. maxBodyBytes <= 0 uses httpx.DefaultMaxBodyBytes.
func NewHandler(log *slog.Logger, svc *Service, maxBodyBytes int64) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:          log,
		svc:          svc,
		maxBodyBytes: maxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register wires the message routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST "+v1.PathMessages, h.handleSend)
	mux.HandleFunc("GET "+v1.PathNewMessages+"{userId}", h.handleNew)
	mux.HandleFunc("GET "+v1.PathConversation+"{userId}/{otherId}", h.handleConversation)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req v1.SendMessageRequest
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, v1.CodeInvalidJSON, "invalid request body")
		return
	}

	res, err := h.svc.Send(r.Context(), SendInput{
		SenderID:        req.SenderID,
		RecipientID:     req.RecipientID,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		h.writeServiceError(w, "messages.send.fail", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toDTO(res.View))
}

func (h *Handler) handleNew(w http.ResponseWriter, r *http.Request) {
	since, err := v1.ParseSince(r.URL.Query().Get(v1.QuerySince), h.now())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, v1.CodeInvalidRequest, "since must be an RFC 3339 UTC timestamp")
		return
	}

	views, err := h.svc.NewSince(r.Context(), r.PathValue("userId"), since)
	if err != nil {
		h.writeServiceError(w, "messages.poll.fail", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toDTOs(views))
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.Conversation(r.Context(), r.PathValue("userId"), r.PathValue("otherId"))
	if err != nil {
		h.writeServiceError(w, "messages.conversation.fail", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toDTOs(views))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, event string, err error) {
	var rl RateLimitError
	switch {
	case errors.Is(err, ErrEmptyContent):
		httpx.WriteError(w, http.StatusBadRequest, v1.CodeEmptyContent, "Content cannot be empty")
	case identity.IsInvalidInput(err):
		httpx.WriteError(w, http.StatusBadRequest, v1.CodeInvalidRequest, identity.Message(err))
	case identity.IsNotFound(err):
		switch identity.NotFoundResource(err) {
		case "sender":
			httpx.WriteError(w, http.StatusNotFound, v1.CodeSenderNotFound, "Sender not found")
		case "recipient":
			httpx.WriteError(w, http.StatusNotFound, v1.CodeRecipientNotFound, "Recipient not found")
		case "other user":
			httpx.WriteError(w, http.StatusNotFound, v1.CodeUserNotFound, "Other user not found")
		default:
			httpx.WriteError(w, http.StatusNotFound, v1.CodeUserNotFound, "User not found")
		}
	case errors.As(err, &rl):
		httpx.WriteRateLimited(w, rl.RetryAfter, "too many messages, slow down")
	default:
		h.log.Error(event, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, v1.CodeInternal, "internal error")
	}
}

func toDTO(v MessageView) v1.MessageDTO {
	return v1.MessageDTO{
		ID:             v.ID,
		SenderID:       v.SenderID,
		SenderUsername: v.SenderUsername,
		RecipientID:    v.RecipientID,
		Content:        v.Content,
		SentAt:         v.SentAt,
	}
}

// toDTOs never returns nil so empty results encode as [].
func toDTOs(views []MessageView) []v1.MessageDTO {
	out := make([]v1.MessageDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toDTO(v))
	}
	return out
}
