package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/consult-service/internal/badgerdb"
	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/service"

	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu      sync.Mutex
	created []domain.Message
	seen    [][]domain.Message
}

func (b *recordingBroadcaster) MessageCreated(m domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, m)
}

func (b *recordingBroadcaster) MessagesSeen(_ domain.ConversationKey, msgs []domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, msgs)
}

// blockingRepo зависает в Append до отмены ctx.
type blockingRepo struct {
	service.MessageRepository
	calls int
}

func (r *blockingRepo) Append(ctx context.Context, _ domain.Draft) (domain.Message, error) {
	r.calls++
	<-ctx.Done()
	return domain.Message{}, ctx.Err()
}

func newService(t *testing.T) (*service.ChatService, *recordingBroadcaster) {
	t.Helper()

	db, err := badgerdb.Open(badgerdb.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	live := &recordingBroadcaster{}
	return service.NewChatService(badgerdb.NewMessageRepository(db), live, time.Second), live
}

func TestSendStoresThenBroadcasts(t *testing.T) {
	svc, live := newService(t)
	ctx := context.Background()

	m, err := svc.Send(ctx, service.SendInput{FarmerID: "f1", DoctorID: "d1", Sender: "farmer", Body: "  leaves turn yellow  "})
	require.NoError(t, err)
	require.Equal(t, "leaves turn yellow", m.Body)
	require.Equal(t, int64(1), m.Seq)

	require.Len(t, live.created, 1)
	require.Equal(t, m.ID, live.created[0].ID)

	history, err := svc.History(ctx, "f1", "d1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, m, history[0])
}

func TestSendValidation(t *testing.T) {
	svc, live := newService(t)

	cases := []service.SendInput{
		{FarmerID: "", DoctorID: "d1", Sender: "farmer", Body: "hi"},
		{FarmerID: "f1", DoctorID: "d1", Sender: "vet", Body: "hi"},
		{FarmerID: "f1", DoctorID: "d1", Sender: "doctor", Body: "   "},
	}
	for _, in := range cases {
		_, err := svc.Send(context.Background(), in)
		require.ErrorIs(t, err, domain.ErrValidation)
	}
	require.Empty(t, live.created)
}

func TestSendTimeout(t *testing.T) {
	repo := &blockingRepo{}
	live := &recordingBroadcaster{}
	svc := service.NewChatService(repo, live, 20*time.Millisecond)

	_, err := svc.Send(context.Background(), service.SendInput{FarmerID: "f1", DoctorID: "d1", Sender: "farmer", Body: "hi"})
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, repo.calls)
	require.Empty(t, live.created)
}

func TestHistoryEmpty(t *testing.T) {
	svc, _ := newService(t)

	got, err := svc.History(context.Background(), "f1", "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)

	_, err = svc.History(context.Background(), "f1", "")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestMarkSeenBroadcastsOnce(t *testing.T) {
	svc, live := newService(t)
	ctx := context.Background()

	m, err := svc.Send(ctx, service.SendInput{FarmerID: "f1", DoctorID: "d1", Sender: "doctor", Body: "use copper spray"})
	require.NoError(t, err)

	got, err := svc.MarkSeen(ctx, m.Key(), m.ID, domain.RoleFarmer)
	require.NoError(t, err)
	require.True(t, got.Seen)

	_, err = svc.MarkSeen(ctx, m.Key(), m.ID, domain.RoleFarmer)
	require.NoError(t, err)
	require.Len(t, live.seen, 1)

	_, err = svc.MarkSeen(ctx, m.Key(), m.ID, domain.RoleDoctor)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.MarkSeen(ctx, m.Key(), "", domain.RoleFarmer)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestMarkAllSeen(t *testing.T) {
	svc, live := newService(t)
	ctx := context.Background()
	key := domain.ConversationKey{FarmerID: "f1", DoctorID: "d1"}

	got, err := svc.MarkAllSeen(ctx, key, domain.RoleFarmer)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Empty(t, live.seen)

	for _, body := range []string{"one", "two"} {
		_, err := svc.Send(ctx, service.SendInput{FarmerID: "f1", DoctorID: "d1", Sender: "doctor", Body: body})
		require.NoError(t, err)
	}

	got, err = svc.MarkAllSeen(ctx, key, domain.RoleFarmer)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, live.seen, 1)

	_, err = svc.MarkAllSeen(ctx, key, domain.Role("vet"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestDirectory(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	farmers, err := svc.FarmersForDoctor(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, farmers)
	require.Empty(t, farmers)

	_, err = svc.Send(ctx, service.SendInput{FarmerID: "f1", DoctorID: "d1", Sender: "farmer", Body: "hello"})
	require.NoError(t, err)

	farmers, err = svc.FarmersForDoctor(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, []string{"f1"}, farmers)

	doctors, err := svc.DoctorsForFarmer(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, []string{"d1"}, doctors)

	_, err = svc.DoctorsForFarmer(ctx, " ")
	require.ErrorIs(t, err, domain.ErrValidation)
}
