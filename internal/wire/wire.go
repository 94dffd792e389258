// Package wire описывает формат кадров websocket-канала консультаций.
// Каждый кадр: JSON {"type", "ref", "payload"}. ref задаёт клиент,
// сервер возвращает его в прямом ответе на запрос.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/cwrk-planet/consult-service/internal/domain"
)

// client → server
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeSendMessage = "send_message"
	TypeMarkSeen    = "mark_seen"
	TypePing        = "ping"
)

// server → client
const (
	TypeReceiveMessage = "receive_message" // новое сообщение в комнате, всем участникам
	TypeMessageSent    = "message_sent"    // подтверждение отправителю, сообщение уже в хранилище
	TypeMessageSeen    = "message_seen"    // сообщения отмечены прочитанными
	TypeJoined         = "joined"
	TypeLeft           = "left"
	TypeError          = "error"
	TypePong           = "pong"
)

type Frame struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode собирает кадр. payload может быть nil.
func Encode(typ, ref string, payload any) ([]byte, error) {
	f := Frame{Type: typ, Ref: ref}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		f.Payload = raw
	}
	return json.Marshal(f)
}

func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: malformed frame: %v", domain.ErrValidation, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: frame type is required", domain.ErrValidation)
	}
	return f, nil
}

// DecodePayload разбирает payload кадра в dst.
func (f Frame) DecodePayload(dst any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%w: %s payload is required", domain.ErrValidation, f.Type)
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrValidation, f.Type, err)
	}
	return nil
}

type RoomPayload struct {
	FarmerID string `json:"farmer_id"`
	DoctorID string `json:"doctor_id"`
}

func (p RoomPayload) Key() (domain.ConversationKey, error) {
	return domain.NewConversationKey(p.FarmerID, p.DoctorID)
}

type JoinPayload struct {
	RoomPayload
	// по умолчанию join выходит из прочих комнат соединения
	KeepPrevious bool `json:"keep_previous,omitempty"`
}

type SendMessagePayload struct {
	RoomPayload
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

type MarkSeenPayload struct {
	RoomPayload
	MessageID string `json:"message_id,omitempty"` // пусто: все непрочитанные от собеседника
}

type MessagePayload struct {
	Message domain.Message `json:"message"`
}

type MessagesSeenPayload struct {
	FarmerID string           `json:"farmer_id"`
	DoctorID string           `json:"doctor_id"`
	Messages []domain.Message `json:"messages"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ErrorPayload) Error() string {
	return e.Code + ": " + e.Message
}
