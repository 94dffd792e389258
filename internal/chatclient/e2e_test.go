package chatclient_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/consult-service/internal/badgerdb"
	"github.com/cwrk-planet/consult-service/internal/chatclient"
	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/security"
	"github.com/cwrk-planet/consult-service/internal/service"
	transporthttp "github.com/cwrk-planet/consult-service/internal/transport/http"
	"github.com/cwrk-planet/consult-service/internal/transport/ws"

	"github.com/stretchr/testify/require"
)

type stack struct {
	httpURL string
	wsURL   string
	ws      *ws.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()

	db, err := badgerdb.Open(badgerdb.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	auth := security.NewAuthenticator(nil)
	hub := ws.NewHub()
	svc := service.NewChatService(badgerdb.NewMessageRepository(db), ws.NewBroadcaster(hub), time.Second)
	wsSrv := ws.NewServer(hub, svc, auth, ws.Config{})

	ts := httptest.NewServer(transporthttp.NewRouter(transporthttp.Deps{
		Handler: transporthttp.NewHandler(svc),
		WS:      wsSrv.HandleWS,
		Auth:    auth,
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { wsSrv.CloseAll(nil) })

	return &stack{
		httpURL: ts.URL,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		ws:      wsSrv,
	}
}

func (s *stack) controller(t *testing.T, who domain.Identity) *chatclient.Controller {
	t.Helper()
	creds := chatclient.Credentials{Identity: who}
	ctrl, err := chatclient.New(
		chatclient.NewHTTPHistory(s.httpURL, creds, nil),
		chatclient.NewWSDialer(s.wsURL, creds),
		chatclient.Options{Identity: who, MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

func TestFarmerDoctorConsultation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	farmerF := domain.Identity{UserID: "F", Role: domain.RoleFarmer}
	doctorD := domain.Identity{UserID: "D", Role: domain.RoleDoctor}

	farmerCtl := s.controller(t, farmerF)
	doctorCtl := s.controller(t, doctorD)

	require.NoError(t, farmerCtl.Open(ctx, "F", "D"))
	require.NoError(t, doctorCtl.Open(ctx, "F", "D"))
	require.Empty(t, farmerCtl.Messages())

	sent, err := farmerCtl.Send(ctx, "my goat stopped eating")
	require.NoError(t, err)
	require.Equal(t, int64(1), sent.Seq)
	require.False(t, sent.Seen)

	waitFor(t, func() bool { return len(doctorCtl.Messages()) == 1 })
	require.Equal(t, sent.ID, doctorCtl.Messages()[0].ID)

	changed, err := doctorCtl.MarkSeen(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	waitFor(t, func() bool { return farmerCtl.Messages()[0].Seen })

	reply, err := doctorCtl.Send(ctx, "check for bloating")
	require.NoError(t, err)
	waitFor(t, func() bool { return len(farmerCtl.Messages()) == 2 })
	require.Equal(t, reply.ID, farmerCtl.Messages()[1].ID)

	// каталог переписок
	doctorAPI := chatclient.NewHTTPHistory(s.httpURL, chatclient.Credentials{Identity: doctorD}, nil)
	farmers, err := doctorAPI.FarmersForDoctor(ctx, "D")
	require.NoError(t, err)
	require.Equal(t, []string{"F"}, farmers)

	farmerAPI := chatclient.NewHTTPHistory(s.httpURL, chatclient.Credentials{Identity: farmerF}, nil)
	doctors, err := farmerAPI.DoctorsForFarmer(ctx, "F")
	require.NoError(t, err)
	require.Equal(t, []string{"D"}, doctors)
}

func TestClientSurvivesServerDroppingConnection(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	farmerF := domain.Identity{UserID: "F", Role: domain.RoleFarmer}
	doctorD := domain.Identity{UserID: "D", Role: domain.RoleDoctor}

	farmerCtl := s.controller(t, farmerF)
	require.NoError(t, farmerCtl.Open(ctx, "F", "D"))
	waitFor(t, func() bool { return s.ws.Connections() == 1 })

	require.Equal(t, 1, s.ws.CloseAll(domain.ErrTransport))

	// доктор пишет через HTTP, пока фермер переподключается
	doctorAPI := chatclient.NewHTTPHistory(s.httpURL, chatclient.Credentials{Identity: doctorD}, nil)
	m, err := doctorAPI.Send(ctx, domain.ConversationKey{FarmerID: "F", DoctorID: "D"}, "are you online?")
	require.NoError(t, err)

	waitFor(t, func() bool {
		msgs := farmerCtl.Messages()
		return len(msgs) == 1 && msgs[0].ID == m.ID
	})
	waitFor(t, func() bool { return s.ws.Connections() == 1 })

	waitFor(t, func() bool {
		_, err := farmerCtl.Send(ctx, "back now")
		return err == nil
	})
	require.Len(t, farmerCtl.Messages(), 2)
}

func TestHTTPHistoryErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	api := chatclient.NewHTTPHistory(s.httpURL, chatclient.Credentials{Identity: domain.Identity{UserID: "F", Role: domain.RoleFarmer}}, nil)

	_, err := api.History(ctx, domain.ConversationKey{FarmerID: "G", DoctorID: "D"})
	require.ErrorIs(t, err, domain.ErrForbidden)
	var re *chatclient.RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, 403, re.Status)

	_, err = api.MarkSeen(ctx, domain.ConversationKey{FarmerID: "F", DoctorID: "D"}, "no-such-message")
	require.ErrorIs(t, err, domain.ErrNotFound)

	anon := chatclient.NewHTTPHistory(s.httpURL, chatclient.Credentials{}, nil)
	_, err = anon.History(ctx, domain.ConversationKey{FarmerID: "F", DoctorID: "D"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	history, err := api.History(ctx, domain.ConversationKey{FarmerID: "F", DoctorID: "D"})
	require.NoError(t, err)
	require.NotNil(t, history)
	require.Empty(t, history)
}
