package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/security"
	"github.com/cwrk-planet/consult-service/internal/service"
	"github.com/cwrk-planet/consult-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 64 << 10

type ChatSvc interface {
	Send(ctx context.Context, in service.SendInput) (domain.Message, error)
	History(ctx context.Context, farmerID, doctorID string) ([]domain.Message, error)
	MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string, reader domain.Role) (domain.Message, error)
	MarkAllSeen(ctx context.Context, key domain.ConversationKey, reader domain.Role) ([]domain.Message, error)
	FarmersForDoctor(ctx context.Context, doctorID string) ([]string, error)
	DoctorsForFarmer(ctx context.Context, farmerID string) ([]string, error)
}

type Handler struct {
	chatSvc  ChatSvc
	validate *validator.Validate
}

func NewHandler(chat ChatSvc) *Handler {
	return &Handler{
		chatSvc:  chat,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// GET /conversations/{farmerID}/{doctorID}/messages
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	key, id, err := h.conversation(r)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if err := id.Authorize(key); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}

	msgs, err := h.chatSvc.History(r.Context(), key.FarmerID, key.DoctorID)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.OK(w, msgs)
}

// POST /conversations/{farmerID}/{doctorID}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	key, id, err := h.conversation(r)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if err := id.Authorize(key); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}

	var req SendMessageRequest
	if err := h.decode(r, &req, false); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if err := id.CheckSender(req.Sender); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}

	m, err := h.chatSvc.Send(r.Context(), service.SendInput{
		FarmerID: key.FarmerID,
		DoctorID: key.DoctorID,
		Sender:   string(id.Role),
		Body:     req.Body,
	})
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.Created(w, m)
}

// POST /conversations/{farmerID}/{doctorID}/seen
// Без message_id: все непрочитанные сообщения собеседника.
func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	key, id, err := h.conversation(r)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if err := id.Authorize(key); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}

	var req MarkSeenRequest
	if err := h.decode(r, &req, true); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}

	var changed []domain.Message
	if req.MessageID != "" {
		m, err := h.chatSvc.MarkSeen(r.Context(), key, req.MessageID, id.Role)
		if err != nil {
			httputil.Fail(r.Context(), w, err)
			return
		}
		changed = []domain.Message{m}
	} else {
		changed, err = h.chatSvc.MarkAllSeen(r.Context(), key, id.Role)
		if err != nil {
			httputil.Fail(r.Context(), w, err)
			return
		}
	}
	httputil.OK(w, changed)
}

// GET /doctors/{doctorID}/conversations
func (h *Handler) DoctorConversations(w http.ResponseWriter, r *http.Request) {
	doctorID := param(r, "doctorID")
	if err := h.self(r, domain.RoleDoctor, doctorID); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	ids, err := h.chatSvc.FarmersForDoctor(r.Context(), doctorID)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.OK(w, ids)
}

// GET /farmers/{farmerID}/conversations
func (h *Handler) FarmerConversations(w http.ResponseWriter, r *http.Request) {
	farmerID := param(r, "farmerID")
	if err := h.self(r, domain.RoleFarmer, farmerID); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	ids, err := h.chatSvc.DoctorsForFarmer(r.Context(), farmerID)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.OK(w, ids)
}

// --- helpers ---

func (h *Handler) conversation(r *http.Request) (domain.ConversationKey, domain.Identity, error) {
	id, ok := security.IdentityFrom(r.Context())
	if !ok {
		return domain.ConversationKey{}, domain.Identity{}, fmt.Errorf("%w: no identity", domain.ErrUnauthorized)
	}
	key, err := domain.NewConversationKey(param(r, "farmerID"), param(r, "doctorID"))
	if err != nil {
		return domain.ConversationKey{}, domain.Identity{}, err
	}
	return key, id, nil
}

// self: список бесед может смотреть только сам участник.
func (h *Handler) self(r *http.Request, role domain.Role, userID string) error {
	id, ok := security.IdentityFrom(r.Context())
	if !ok {
		return fmt.Errorf("%w: no identity", domain.ErrUnauthorized)
	}
	if id.Role != role || id.UserID != userID {
		return fmt.Errorf("%w: %s %q cannot list conversations of %s %q", domain.ErrForbidden, id.Role, id.UserID, role, userID)
	}
	return nil
}

// param: path-параметр без %-кодирования (id может содержать '/').
func param(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (h *Handler) decode(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	switch {
	case err == io.EOF && allowEmpty:
	case err != nil:
		return fmt.Errorf("%w: invalid json: %v", domain.ErrValidation, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}
