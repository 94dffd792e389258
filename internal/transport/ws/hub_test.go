package ws

import (
	"sync"
	"testing"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	full   bool
	kicked error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.kicked != nil {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Kick(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kicked == nil {
		c.kicked = reason
	}
}

var (
	roomA = domain.ConversationKey{FarmerID: "f1", DoctorID: "d1"}
	roomB = domain.ConversationKey{FarmerID: "f2", DoctorID: "d1"}
)

func TestHubJoinPublishLeave(t *testing.T) {
	h := NewHub()
	farmer := &fakeConn{id: "c1"}
	doctor := &fakeConn{id: "c2"}

	h.Join(farmer, roomA)
	h.Join(doctor, roomA)
	h.Join(doctor, roomB)
	require.Equal(t, 2, h.Members(roomA))
	require.Equal(t, 2, h.RoomCount())

	require.Equal(t, 2, h.Publish(roomA, []byte("x")))
	require.Equal(t, 1, h.Publish(roomB, []byte("y")))
	require.Len(t, farmer.frames, 1)
	require.Len(t, doctor.frames, 2)

	require.True(t, h.Leave(farmer, roomA))
	require.False(t, h.Leave(farmer, roomA))
	require.Equal(t, 1, h.Members(roomA))

	require.ElementsMatch(t, []domain.ConversationKey{roomA, roomB}, h.LeaveAll(doctor))
	require.Equal(t, 0, h.RoomCount())
	require.Empty(t, h.Rooms(doctor))
	require.Equal(t, 0, h.Publish(roomA, []byte("z")))
}

func TestHubLeaveOthers(t *testing.T) {
	h := NewHub()
	c := &fakeConn{id: "c1"}
	h.Join(c, roomA)
	h.Join(c, roomB)

	left := h.LeaveOthers(c, roomB)
	require.Equal(t, []domain.ConversationKey{roomA}, left)
	require.Equal(t, []domain.ConversationKey{roomB}, h.Rooms(c))
	require.Equal(t, 0, h.Members(roomA))
}

func TestHubSlowConnectionIsKickedNotWaitedFor(t *testing.T) {
	h := NewHub()
	slow := &fakeConn{id: "slow", full: true}
	fast := &fakeConn{id: "fast"}
	h.Join(slow, roomA)
	h.Join(fast, roomA)

	require.Equal(t, 1, h.Publish(roomA, []byte("m1")))
	require.Len(t, fast.frames, 1)
	require.ErrorIs(t, slow.kicked, domain.ErrTransport)

	// хаб не трогает подписки чужого соединения, это делает его readLoop
	require.Equal(t, 2, h.Members(roomA))
}

func TestHubConcurrentUse(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: string(rune('a' + i))}
			h.Join(c, roomA)
			h.Publish(roomA, []byte("x"))
			h.LeaveAll(c)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, h.RoomCount())
}
