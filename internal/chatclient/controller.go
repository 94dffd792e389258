// Package chatclient реализует клиентскую сторону чата консультаций: открыть переписку
// (история + комната), отправить, принять, отметить прочитанным.
// Controller держит локальное представление одной открытой переписки
// и сам переподключает живой канал.
package chatclient

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/wire"
	"github.com/cwrk-planet/consult-service/pkg/logger"

	"github.com/samber/lo"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateJoined
	StateSending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateJoined:
		return "joined"
	case StateSending:
		return "sending"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// HistoryAPI: чтение истории и отметки прочтения (HTTPHistory).
type HistoryAPI interface {
	History(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error)
	MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string) ([]domain.Message, error)
}

// LiveConn: одно соединение живого канала (WSChannel).
type LiveConn interface {
	WriteFrame(ctx context.Context, frame []byte) error
	ReadFrame() (wire.Frame, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (LiveConn, error)
}

// FailedMessage: отправка, которую сервис не подтвердил. Не путать с
// отправленным, но непрочитанным сообщением. Если сообщение с тем же текстом
// потом всё же приходит от сервиса, запись убирается.
type FailedMessage struct {
	Body string
	Err  error
	At   time.Time
}

type Options struct {
	Identity    domain.Identity
	SendTimeout time.Duration // 10s
	JoinTimeout time.Duration // 10s
	MinBackoff  time.Duration // 200ms
	MaxBackoff  time.Duration // 5s
	Logger      *slog.Logger  // nil: logger.L()
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = max(5*time.Second, o.MinBackoff)
	}
	if o.Logger == nil {
		o.Logger = logger.L()
	}
	return o
}

type Controller struct {
	history HistoryAPI
	dialer  Dialer
	opts    Options
	log     *slog.Logger

	opMu   sync.Mutex // Open / Close
	sendMu sync.Mutex // одна отправка за раз
	refs   atomic.Uint64

	mu     sync.Mutex
	state  State
	sess   *session
	msgs   map[string]domain.Message
	failed []FailedMessage

	updates chan struct{}
}

func New(history HistoryAPI, dialer Dialer, opts Options) (*Controller, error) {
	if !opts.Identity.Valid() {
		return nil, fmt.Errorf("%w: client identity is required", domain.ErrValidation)
	}
	opts = opts.withDefaults()
	return &Controller{
		history: history,
		dialer:  dialer,
		opts:    opts,
		log: opts.Logger.With(
			slog.String("user_id", opts.Identity.UserID),
			slog.String("role", string(opts.Identity.Role)),
		),
		msgs:    map[string]domain.Message{},
		updates: make(chan struct{}, 1),
	}, nil
}

// Open загружает историю и входит в комнату. Уже открытая переписка закрывается.
func (c *Controller) Open(ctx context.Context, farmerID, doctorID string) error {
	key, err := domain.NewConversationKey(farmerID, doctorID)
	if err != nil {
		return err
	}
	if err := c.opts.Identity.Authorize(key); err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.closeLocked()

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		key:     key,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: map[string]chan wire.Frame{},
		log:     c.log.With(slog.String("conversation", key.String())),
	}

	c.mu.Lock()
	c.sess = s
	c.state = StateLoading
	c.msgs = map[string]domain.Message{}
	c.failed = nil
	c.mu.Unlock()

	history, err := c.history.History(ctx, key)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("load history: %w", err)
	}
	c.merge(s, history...)

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("open live channel: %w", err)
	}
	s.setConn(conn)
	s.running = true
	go c.run(s, conn)

	if _, err := c.request(ctx, s, wire.TypeJoin, wire.JoinPayload{RoomPayload: roomOf(key)}, c.opts.JoinTimeout); err != nil {
		c.closeLocked()
		return fmt.Errorf("join: %w", err)
	}
	// догоняем то, что пришло между загрузкой истории и входом в комнату
	if err := c.resync(ctx, s); err != nil {
		s.log.Warn("resync after join failed", slog.Any("err", err))
	}

	c.mu.Lock()
	if c.sess == s {
		c.state = StateJoined
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Send ждёт подтверждения message_sent, затем перечитывает историю.
// Неподтверждённая отправка попадает в Failed.
func (c *Controller) Send(ctx context.Context, body string) (domain.Message, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	s := c.sess
	if s == nil || c.state != StateJoined {
		c.mu.Unlock()
		return domain.Message{}, ErrNotOpen
	}
	c.state = StateSending
	c.mu.Unlock()
	defer c.transition(s, StateSending, StateJoined)

	if _, err := domain.NewDraft(s.key.FarmerID, s.key.DoctorID, string(c.opts.Identity.Role), body); err != nil {
		c.fail(s, body, err)
		return domain.Message{}, err
	}

	reply, err := c.request(ctx, s, wire.TypeSendMessage, wire.SendMessagePayload{
		RoomPayload: roomOf(s.key),
		Sender:      string(c.opts.Identity.Role),
		Body:        body,
	}, c.opts.SendTimeout)
	if err != nil {
		c.fail(s, body, err)
		return domain.Message{}, err
	}

	var p wire.MessagePayload
	if err := reply.DecodePayload(&p); err != nil {
		c.fail(s, body, err)
		return domain.Message{}, err
	}
	c.merge(s, p.Message)

	if err := c.resync(ctx, s); err != nil {
		s.log.Warn("fetch after send failed", slog.Any("err", err))
	}
	return p.Message, nil
}

// MarkSeen отмечает прочитанными все сообщения собеседника.
// Если непрочитанных нет, запрос не отправляется.
func (c *Controller) MarkSeen(ctx context.Context) ([]domain.Message, error) {
	c.mu.Lock()
	s := c.sess
	if s == nil || c.state == StateLoading {
		c.mu.Unlock()
		return nil, ErrNotOpen
	}
	self := c.opts.Identity.Role
	unseen := lo.SomeBy(lo.Values(c.msgs), func(m domain.Message) bool {
		return !m.Seen && m.Sender != self
	})
	c.mu.Unlock()

	if !unseen {
		return []domain.Message{}, nil
	}
	changed, err := c.history.MarkSeen(ctx, s.key, "")
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	c.merge(s, changed...)
	return changed, nil
}

// Close выходит из переписки. Повторный вызов ничего не делает.
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.closeLocked()
	return nil
}

// Messages: снимок открытой переписки по возрастанию seq.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	out := lo.Values(c.msgs)
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.Message) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func (c *Controller) Failed() []FailedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.failed)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Conversation: ключ открытой переписки.
func (c *Controller) Conversation() (domain.ConversationKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return domain.ConversationKey{}, false
	}
	return c.sess.key, true
}

// Updates сигналит (без данных) после каждого изменения локального представления.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// -------- live channel --------

func (c *Controller) run(s *session, conn LiveConn) {
	defer close(s.done)
	for {
		c.readLoop(s, conn)
		s.dropConn(conn)
		_ = conn.Close()
		if s.ctx.Err() != nil {
			return
		}

		s.log.Warn("live channel lost, reconnecting")
		if conn = c.reconnect(s); conn == nil {
			return
		}
		s.log.Info("live channel restored")
	}
}

func (c *Controller) readLoop(s *session, conn LiveConn) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Debug("live read failed", slog.Any("err", err))
			}
			return
		}
		c.handle(s, f)
	}
}

func (c *Controller) handle(s *session, f wire.Frame) {
	switch f.Type {
	case wire.TypeReceiveMessage, wire.TypeMessageSent:
		var p wire.MessagePayload
		if err := f.DecodePayload(&p); err != nil {
			s.log.Warn("bad message frame", slog.String("type", f.Type), slog.Any("err", err))
			break
		}
		c.merge(s, p.Message)
	case wire.TypeMessageSeen:
		var p wire.MessagesSeenPayload
		if err := f.DecodePayload(&p); err != nil {
			s.log.Warn("bad message_seen frame", slog.Any("err", err))
			break
		}
		c.merge(s, p.Messages...)
	case wire.TypeError:
		if f.Ref == "" {
			s.log.Warn("live error", slog.Any("err", remoteError(f)))
		}
	}

	if f.Ref != "" {
		s.deliver(f.Ref, f)
	}
}

// reconnect: backoff, новый канал, join, догоняющее чтение истории.
// Возвращает nil, если переписку закрыли.
func (c *Controller) reconnect(s *session) LiveConn {
	backoff := c.opts.MinBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := c.rejoin(s)
		if err == nil {
			return conn
		}
		if s.ctx.Err() != nil {
			return nil
		}
		s.log.Warn("reconnect failed",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("err", err))
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// rejoin читает новый канал сам (readLoop ещё не запущен) до ответа joined.
// Историю перечитываем только после него: всё, что сохранено позже, придёт живым путём.
func (c *Controller) rejoin(s *session) (LiveConn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, c.opts.JoinTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.awaitJoined(ctx, s, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !s.setConn(conn) {
		_ = conn.Close()
		return nil, ErrClosed
	}
	if err := c.resync(ctx, s); err != nil {
		s.log.Warn("resync after reconnect failed", slog.Any("err", err))
	}
	return conn, nil
}

func (c *Controller) awaitJoined(ctx context.Context, s *session, conn LiveConn) error {
	ref := c.nextRef()
	frame, err := wire.Encode(wire.TypeJoin, ref, wire.JoinPayload{RoomPayload: roomOf(s.key)})
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("%w: rejoin: %v", domain.ErrTransport, err)
	}

	// ReadFrame не знает про ctx: по таймауту закрываем соединение
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return fmt.Errorf("joined not confirmed: %w", ctx.Err())
			}
			return fmt.Errorf("%w: rejoin: %v", domain.ErrTransport, err)
		}
		if f.Ref != ref {
			c.handle(s, f)
			continue
		}
		if !stop() {
			return fmt.Errorf("joined not confirmed: %w", ctx.Err())
		}
		if f.Type == wire.TypeError {
			return remoteError(f)
		}
		return nil
	}
}

// request отправляет кадр с новым ref и ждёт прямого ответа на него.
func (c *Controller) request(ctx context.Context, s *session, typ string, payload any, timeout time.Duration) (wire.Frame, error) {
	ref := c.nextRef()
	frame, err := wire.Encode(typ, ref, payload)
	if err != nil {
		return wire.Frame{}, err
	}

	ch, conn := s.await(ref)
	defer s.forget(ref)
	if conn == nil {
		return wire.Frame{}, fmt.Errorf("%w: live channel is reconnecting", domain.ErrTransport)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.WriteFrame(ctx, frame); err != nil {
		return wire.Frame{}, fmt.Errorf("%w: write %s: %v", domain.ErrTransport, typ, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return wire.Frame{}, fmt.Errorf("%w: connection lost before %s was confirmed", domain.ErrTransport, typ)
		}
		if reply.Type == wire.TypeError {
			return reply, remoteError(reply)
		}
		return reply, nil
	case <-s.ctx.Done():
		return wire.Frame{}, ErrClosed
	case <-ctx.Done():
		return wire.Frame{}, fmt.Errorf("%s not confirmed: %w", typ, ctx.Err())
	}
}

func (c *Controller) nextRef() string {
	return strconv.FormatUint(c.refs.Add(1), 10)
}

// -------- local view --------

func (c *Controller) resync(ctx context.Context, s *session) error {
	msgs, err := c.history.History(ctx, s.key)
	if err != nil {
		return err
	}
	c.merge(s, msgs...)
	return nil
}

// merge добавляет по id; seen только включается.
func (c *Controller) merge(s *session, msgs ...domain.Message) {
	if len(msgs) == 0 {
		return
	}
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	for _, m := range msgs {
		if m.ID == "" || m.Key() != s.key {
			continue
		}
		if prev, ok := c.msgs[m.ID]; ok {
			m.Seen = m.Seen || prev.Seen
		} else if m.Sender == c.opts.Identity.Role {
			c.resolveFailedLocked(m.Body)
		}
		c.msgs[m.ID] = m
	}
	c.mu.Unlock()
	c.notify()
}

// resolveFailedLocked: своё сообщение всё-таки сохранилось (поздняя запись
// после таймаута или удачный повтор). Снимаем самую старую неудачу с тем же текстом.
func (c *Controller) resolveFailedLocked(body string) {
	i := slices.IndexFunc(c.failed, func(f FailedMessage) bool {
		return strings.TrimSpace(f.Body) == body
	})
	if i >= 0 {
		c.failed = slices.Delete(c.failed, i, i+1)
	}
}

func (c *Controller) fail(s *session, body string, err error) {
	c.mu.Lock()
	if c.sess == s {
		c.failed = append(c.failed, FailedMessage{Body: body, Err: err, At: time.Now().UTC()})
	}
	c.mu.Unlock()
	s.log.Warn("send failed", slog.Any("err", err))
	c.notify()
}

func (c *Controller) transition(s *session, from, to State) {
	c.mu.Lock()
	if c.sess == s && c.state == from {
		c.state = to
	}
	c.mu.Unlock()
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// вызывается под opMu
func (c *Controller) closeLocked() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.state = StateIdle
	c.msgs = map[string]domain.Message{}
	c.failed = nil
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	if conn := s.shutdown(); conn != nil {
		_ = conn.Close()
	}
	if s.running {
		<-s.done
	}
	c.notify()
}

// -------- session --------

// session описывает одну открытую переписку (текущее соединение и ожидающие ответа ref).
type session struct {
	key     domain.ConversationKey
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool // run запущен; меняется только под opMu
	log     *slog.Logger

	mu      sync.Mutex
	conn    LiveConn
	closed  bool
	pending map[string]chan wire.Frame
}

func (s *session) setConn(conn LiveConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	return true
}

// dropConn: соединение потеряно, все ожидающие получают закрытый канал.
func (s *session) dropConn(conn LiveConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
	for ref, ch := range s.pending {
		close(ch)
		delete(s.pending, ref)
	}
}

func (s *session) shutdown() LiveConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	return conn
}

func (s *session) await(ref string) (<-chan wire.Frame, LiveConn) {
	ch := make(chan wire.Frame, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[ref] = ch
	return ch, s.conn
}

func (s *session) deliver(ref string, f wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.pending[ref]; ok {
		ch <- f
		delete(s.pending, ref)
	}
}

func (s *session) forget(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, ref)
}

// -------- helpers --------

func roomOf(key domain.ConversationKey) wire.RoomPayload {
	return wire.RoomPayload{FarmerID: key.FarmerID, DoctorID: key.DoctorID}
}

func remoteError(f wire.Frame) error {
	var p wire.ErrorPayload
	if err := f.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: undecodable error frame", domain.ErrTransport)
	}
	return &RemoteError{Code: p.Code, Message: p.Message}
}
