package ws

import (
	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/wire"
	"github.com/cwrk-planet/consult-service/pkg/logger"
)

// Broadcaster публикует сохранённые изменения в комнаты хаба.
// Реализует service.Broadcaster.
type Broadcaster struct {
	hub *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

func (b *Broadcaster) MessageCreated(m domain.Message) {
	b.publish(m.Key(), wire.TypeReceiveMessage, wire.MessagePayload{Message: m})
}

func (b *Broadcaster) MessagesSeen(key domain.ConversationKey, msgs []domain.Message) {
	if len(msgs) == 0 {
		return
	}
	b.publish(key, wire.TypeMessageSeen, wire.MessagesSeenPayload{
		FarmerID: key.FarmerID,
		DoctorID: key.DoctorID,
		Messages: msgs,
	})
}

func (b *Broadcaster) publish(key domain.ConversationKey, typ string, payload any) {
	frame, err := wire.Encode(typ, "", payload)
	if err != nil {
		logger.L().Error("ws encode failed", "type", typ, "err", err)
		return
	}
	n := b.hub.Publish(key, frame)
	logger.L().Debug("ws published", "room", key.String(), "type", typ, "delivered", n)
}
