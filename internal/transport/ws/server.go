package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/service"
	"github.com/cwrk-planet/consult-service/internal/wire"
	"github.com/cwrk-planet/consult-service/pkg/errs"
	"github.com/cwrk-planet/consult-service/pkg/httputil"
	"github.com/cwrk-planet/consult-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type ChatSvc interface {
	Send(ctx context.Context, in service.SendInput) (domain.Message, error)
	MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string, reader domain.Role) (domain.Message, error)
	MarkAllSeen(ctx context.Context, key domain.ConversationKey, reader domain.Role) ([]domain.Message, error)
}

type Authenticator interface {
	Authenticate(r *http.Request) (domain.Identity, error)
}

type Config struct {
	PingEvery      time.Duration // 15s
	WriteWait      time.Duration // 5s
	MaxMessageSize int64         // 64KiB
	SendQueue      int           // 64 кадра
	AllowedOrigins []string      // пусто: любой origin
}

func (c Config) withDefaults() Config {
	if c.PingEvery <= 0 {
		c.PingEvery = 15 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 << 10
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	return c
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	chatSvc  ChatSvc
	auth     Authenticator
	cfg      Config

	mu    sync.Mutex
	conns map[string]*wsConn
}

func NewServer(hub *Hub, chat ChatSvc, auth Authenticator, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		hub:     hub,
		chatSvc: chat,
		auth:    auth,
		cfg:     cfg,
		conns:   map[string]*wsConn{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// WS endpoint: GET /ws?access_token=... (dev: ?user_id=...&role=...)
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(r)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам ответил клиенту
		logger.FromContext(r.Context()).Warn("ws upgrade failed", slog.Any("err", err))
		return
	}

	connID := uuid.NewString()
	log := logger.FromContext(r.Context()).With(
		slog.String("conn_id", connID),
		slog.String("user_id", identity.UserID),
		slog.String("role", string(identity.Role)),
	)
	c := newWsConn(connID, identity, conn, s.cfg.SendQueue, log)
	s.track(c)
	defer s.untrack(c)
	log.Info("ws connected")

	ctx, cancel := context.WithCancel(logger.IntoContext(r.Context(), log))
	defer cancel()

	go c.writeLoop(s.cfg.PingEvery, s.cfg.WriteWait)
	s.readLoop(ctx, c)

	// disconnect: подписки снимает только само соединение
	left := s.hub.LeaveAll(c)
	c.Kick(nil)
	log.Info("ws disconnected", slog.Int("rooms_left", len(left)))
}

// CloseAll рвёт все живые соединения (остановка сервиса).
// Клиенты переподключаются и догоняют историю сами.
func (s *Server) CloseAll(reason error) int {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Kick(reason)
	}
	return len(conns)
}

// Connections: число открытых соединений.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("ws read failed", slog.Any("err", err))
			}
			return
		}
		// любой кадр от клиента: признак жизни
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))

		f, err := wire.Decode(data)
		if err != nil {
			s.replyError(c, "", err)
			continue
		}
		s.dispatch(ctx, c, f)
	}
}

// dispatch обрабатывает кадры строго по одному: события одного соединения не переупорядочиваются.
func (s *Server) dispatch(ctx context.Context, c *wsConn, f wire.Frame) {
	var err error
	switch f.Type {
	case wire.TypeJoin:
		err = s.handleJoin(c, f)
	case wire.TypeLeave:
		err = s.handleLeave(c, f)
	case wire.TypeSendMessage:
		err = s.handleSend(ctx, c, f)
	case wire.TypeMarkSeen:
		err = s.handleMarkSeen(ctx, c, f)
	case wire.TypePing:
		s.reply(c, wire.TypePong, f.Ref, nil)
	default:
		err = fmt.Errorf("%w: unknown frame type %q", domain.ErrValidation, f.Type)
	}
	if err != nil {
		s.replyError(c, f.Ref, err)
	}
}

func (s *Server) handleJoin(c *wsConn, f wire.Frame) error {
	var p wire.JoinPayload
	if err := f.DecodePayload(&p); err != nil {
		return err
	}
	key, err := p.Key()
	if err != nil {
		return err
	}
	if err := c.identity.Authorize(key); err != nil {
		return err
	}

	if !p.KeepPrevious {
		for _, prev := range s.hub.LeaveOthers(c, key) {
			s.reply(c, wire.TypeLeft, "", roomPayload(prev))
		}
	}
	s.hub.Join(c, key)
	c.log.Debug("ws joined", slog.String("room", key.String()))

	s.reply(c, wire.TypeJoined, f.Ref, roomPayload(key))
	return nil
}

func (s *Server) handleLeave(c *wsConn, f wire.Frame) error {
	var p wire.RoomPayload
	if err := f.DecodePayload(&p); err != nil {
		return err
	}
	key, err := p.Key()
	if err != nil {
		return err
	}
	s.hub.Leave(c, key)
	s.reply(c, wire.TypeLeft, f.Ref, roomPayload(key))
	return nil
}

// send_message идёт через тот же ChatService.Send, что и HTTP: сначала запись,
// потом публикация в комнату (её делает Broadcaster сервиса).
func (s *Server) handleSend(ctx context.Context, c *wsConn, f wire.Frame) error {
	var p wire.SendMessagePayload
	if err := f.DecodePayload(&p); err != nil {
		return err
	}
	key, err := p.Key()
	if err != nil {
		return err
	}
	if err := c.identity.Authorize(key); err != nil {
		return err
	}
	if err := c.identity.CheckSender(p.Sender); err != nil {
		return err
	}

	m, err := s.chatSvc.Send(ctx, service.SendInput{
		FarmerID: key.FarmerID,
		DoctorID: key.DoctorID,
		Sender:   string(c.identity.Role),
		Body:     p.Body,
	})
	if err != nil {
		return err
	}
	s.reply(c, wire.TypeMessageSent, f.Ref, wire.MessagePayload{Message: m})
	return nil
}

func (s *Server) handleMarkSeen(ctx context.Context, c *wsConn, f wire.Frame) error {
	var p wire.MarkSeenPayload
	if err := f.DecodePayload(&p); err != nil {
		return err
	}
	key, err := p.Key()
	if err != nil {
		return err
	}
	if err := c.identity.Authorize(key); err != nil {
		return err
	}

	var changed []domain.Message
	if p.MessageID != "" {
		m, err := s.chatSvc.MarkSeen(ctx, key, p.MessageID, c.identity.Role)
		if err != nil {
			return err
		}
		changed = []domain.Message{m}
	} else {
		changed, err = s.chatSvc.MarkAllSeen(ctx, key, c.identity.Role)
		if err != nil {
			return err
		}
	}

	s.reply(c, wire.TypeMessageSeen, f.Ref, wire.MessagesSeenPayload{
		FarmerID: key.FarmerID,
		DoctorID: key.DoctorID,
		Messages: changed,
	})
	return nil
}

// --- helpers ---

func (s *Server) reply(c *wsConn, typ, ref string, payload any) {
	frame, err := wire.Encode(typ, ref, payload)
	if err != nil {
		c.log.Error("ws encode failed", slog.String("type", typ), slog.Any("err", err))
		return
	}
	if !c.Enqueue(frame) {
		c.Kick(fmt.Errorf("%w: send queue of %s is full", domain.ErrTransport, c.id))
	}
}

func (s *Server) replyError(c *wsConn, ref string, err error) {
	level := slog.LevelDebug
	if errs.ToHTTP(err) >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	c.log.Log(context.Background(), level, "ws request failed", slog.String("ref", ref), slog.Any("err", err))

	s.reply(c, wire.TypeError, ref, wire.ErrorPayload{Code: errs.Code(err), Message: errs.Public(err)})
}

func roomPayload(key domain.ConversationKey) wire.RoomPayload {
	return wire.RoomPayload{FarmerID: key.FarmerID, DoctorID: key.DoctorID}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // не браузер
		}
		_, ok := set[origin]
		return ok
	}
}

