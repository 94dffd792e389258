package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"
)

const DefaultAppendTimeout = 5 * time.Second

// MessageRepository: хранилище сообщений. id, seq и created_at назначаются
// в точке записи; параллельные Append одной переписки упорядочиваются.
type MessageRepository interface {
	Append(ctx context.Context, d domain.Draft) (domain.Message, error)
	History(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error)
	MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string, reader domain.Role) (domain.Message, bool, error)
	MarkAllSeen(ctx context.Context, key domain.ConversationKey, reader domain.Role) ([]domain.Message, error)
	FarmersForDoctor(ctx context.Context, doctorID string) ([]string, error)
	DoctorsForFarmer(ctx context.Context, farmerID string) ([]string, error)
}

// Broadcaster рассылает уже сохранённые изменения живым соединениям.
// Не блокирует и не может сорвать операцию, которая его вызвала.
type Broadcaster interface {
	MessageCreated(m domain.Message)
	MessagesSeen(key domain.ConversationKey, msgs []domain.Message)
}

type noopBroadcaster struct{}

func (noopBroadcaster) MessageCreated(domain.Message)                          {}
func (noopBroadcaster) MessagesSeen(domain.ConversationKey, []domain.Message) {}

type SendInput struct {
	FarmerID string
	DoctorID string
	Sender   string
	Body     string
}

type ChatService struct {
	repo          MessageRepository
	live          Broadcaster
	appendTimeout time.Duration
}

func NewChatService(repo MessageRepository, live Broadcaster, appendTimeout time.Duration) *ChatService {
	if live == nil {
		live = noopBroadcaster{}
	}
	if appendTimeout <= 0 {
		appendTimeout = DefaultAppendTimeout
	}
	return &ChatService{repo: repo, live: live, appendTimeout: appendTimeout}
}

// Send сохраняет сообщение и только потом публикует его в комнату.
func (s *ChatService) Send(ctx context.Context, in SendInput) (domain.Message, error) {
	d, err := domain.NewDraft(in.FarmerID, in.DoctorID, in.Sender, in.Body)
	if err != nil {
		return domain.Message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.appendTimeout)
	defer cancel()

	m, err := s.repo.Append(ctx, d)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Message{}, fmt.Errorf("%w: append timed out after %s: %w", domain.ErrPersistence, s.appendTimeout, err)
		}
		return domain.Message{}, domain.Persistence("append", err)
	}
	slog.Debug("chat message stored",
		"conversation", d.Key.String(), "msg_id", m.ID, "seq", m.Seq, "sender", m.Sender)

	s.live.MessageCreated(m)
	return m, nil
}

func (s *ChatService) History(ctx context.Context, farmerID, doctorID string) ([]domain.Message, error) {
	key, err := domain.NewConversationKey(farmerID, doctorID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.History(ctx, key)
	if err != nil {
		return nil, domain.Persistence("history", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func (s *ChatService) MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string, reader domain.Role) (domain.Message, error) {
	if err := key.Validate(); err != nil {
		return domain.Message{}, err
	}
	if messageID == "" {
		return domain.Message{}, fmt.Errorf("%w: message_id is required", domain.ErrValidation)
	}
	m, changed, err := s.repo.MarkSeen(ctx, key, messageID, reader)
	if err != nil {
		return domain.Message{}, domain.Persistence("mark seen", err)
	}
	if changed {
		s.live.MessagesSeen(key, []domain.Message{m})
	}
	return m, nil
}

// MarkAllSeen отмечает все непрочитанные сообщения собеседника.
func (s *ChatService) MarkAllSeen(ctx context.Context, key domain.ConversationKey, reader domain.Role) ([]domain.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !reader.Valid() {
		return nil, fmt.Errorf("%w: reader role %q is not one of farmer|doctor", domain.ErrValidation, reader)
	}
	changed, err := s.repo.MarkAllSeen(ctx, key, reader)
	if err != nil {
		return nil, domain.Persistence("mark all seen", err)
	}
	if len(changed) > 0 {
		s.live.MessagesSeen(key, changed)
	} else {
		changed = []domain.Message{}
	}
	return changed, nil
}

func (s *ChatService) FarmersForDoctor(ctx context.Context, doctorID string) ([]string, error) {
	id, err := domain.ValidateParticipantID("doctor_id", doctorID)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.FarmersForDoctor(ctx, id)
	if err != nil {
		return nil, domain.Persistence("farmers for doctor", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *ChatService) DoctorsForFarmer(ctx context.Context, farmerID string) ([]string, error) {
	id, err := domain.ValidateParticipantID("farmer_id", farmerID)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.DoctorsForFarmer(ctx, id)
	if err != nil {
		return nil, domain.Persistence("doctors for farmer", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
