package ws

import (
	"fmt"
	"sync"

	"github.com/cwrk-planet/consult-service/internal/domain"
)

// Conn: то, что хаб знает о соединении. Enqueue не блокируется:
// false значит, что очередь соединения переполнена или оно закрыто.
type Conn interface {
	ID() string
	Enqueue(frame []byte) bool
	Kick(reason error)
}

// Hub: комнаты (farmer, doctor) и подписанные на них соединения.
// Комната существует, пока в ней есть хотя бы одно соединение.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.ConversationKey]map[Conn]struct{} // комната -> её соединения
	subs  map[Conn]map[domain.ConversationKey]struct{} // соединение -> его комнаты
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[domain.ConversationKey]map[Conn]struct{}),
		subs:  make(map[Conn]map[domain.ConversationKey]struct{}),
	}
}

func (h *Hub) Join(c Conn, key domain.ConversationKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[key]
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[key] = rs
	}
	rs[c] = struct{}{}

	ss, ok := h.subs[c]
	if !ok {
		ss = make(map[domain.ConversationKey]struct{})
		h.subs[c] = ss
	}
	ss[key] = struct{}{}
}

// Leave возвращает false, если соединение не было в комнате.
func (h *Hub) Leave(c Conn, key domain.ConversationKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.leaveLocked(c, key)
}

// LeaveAll снимает все подписки соединения и возвращает комнаты, из которых оно вышло.
func (h *Hub) LeaveAll(c Conn) []domain.ConversationKey {
	h.mu.Lock()
	defer h.mu.Unlock()

	left := make([]domain.ConversationKey, 0, len(h.subs[c]))
	for key := range h.subs[c] {
		left = append(left, key)
	}
	for _, key := range left {
		h.leaveLocked(c, key)
	}
	return left
}

// LeaveOthers: выход из всех комнат, кроме keep (смена активного чата).
func (h *Hub) LeaveOthers(c Conn, keep domain.ConversationKey) []domain.ConversationKey {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []domain.ConversationKey
	for key := range h.subs[c] {
		if key != keep {
			left = append(left, key)
		}
	}
	for _, key := range left {
		h.leaveLocked(c, key)
	}
	return left
}

func (h *Hub) leaveLocked(c Conn, key domain.ConversationKey) bool {
	rs, ok := h.rooms[key]
	if !ok {
		return false
	}
	if _, ok := rs[c]; !ok {
		return false
	}
	delete(rs, c)
	if len(rs) == 0 {
		delete(h.rooms, key)
	}

	if ss, ok := h.subs[c]; ok {
		delete(ss, key)
		if len(ss) == 0 {
			delete(h.subs, c)
		}
	}
	return true
}

// Publish кладёт кадр в очередь каждого соединения комнаты и возвращает,
// скольким он доставлен. Соединение с полной очередью не ждём: оно получает
// Kick, а отписывает его от комнат его же readLoop.
func (h *Hub) Publish(key domain.ConversationKey, frame []byte) int {
	var (
		delivered int
		slow      []Conn
	)

	h.mu.RLock()
	for c := range h.rooms[key] {
		if c.Enqueue(frame) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		c.Kick(fmt.Errorf("%w: send queue of %s is full", domain.ErrTransport, c.ID()))
	}
	return delivered
}

// Members: число соединений в комнате.
func (h *Hub) Members(key domain.ConversationKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[key])
}

// Rooms: комнаты, в которых сейчас соединение.
func (h *Hub) Rooms(c Conn) []domain.ConversationKey {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.ConversationKey, 0, len(h.subs[c]))
	for key := range h.subs[c] {
		out = append(out, key)
	}
	return out
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
