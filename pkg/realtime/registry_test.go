package realtime

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(c *Client) []any {
	var out []any
	for {
		select {
		case v := <-c.send:
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestRegistry_MultiDevicePresence(t *testing.T) {
	r := NewRegistry()
	phone := newClient("user-1", "CUSTOMER", nil)
	laptop := newClient("user-1", "CUSTOMER", nil)
	other := newClient("user-2", "MERCHANT", nil)
	r.Register(phone)
	r.Register(laptop)
	r.Register(other)

	require.True(t, r.IsOnline("user-1"))
	require.Equal(t, 3, r.ConnectionCount())
	online := r.OnlineUsers()
	sort.Strings(online)
	require.Equal(t, []string{"user-1", "user-2"}, online)

	require.Equal(t, 2, r.SendToUser("user-1", "hello"))
	require.Len(t, drain(phone), 1)
	require.Len(t, drain(laptop), 1)
	require.Empty(t, drain(other))

	r.Unregister(phone.ID)
	require.True(t, r.IsOnline("user-1"))
	r.Unregister(laptop.ID)
	require.False(t, r.IsOnline("user-1"))
	require.Nil(t, r.Unregister(laptop.ID))
}

func TestRegistry_RoomBroadcast(t *testing.T) {
	r := NewRegistry()
	a := newClient("user-a", "CUSTOMER", nil)
	b := newClient("user-b", "MERCHANT", nil)
	c := newClient("user-c", "DRIVER", nil)
	for _, cl := range []*Client{a, b, c} {
		r.Register(cl)
	}

	require.True(t, r.Join(a.ID, "room-1"))
	require.True(t, r.Join(b.ID, "room-1"))
	require.True(t, r.Join(c.ID, "room-2"))
	require.False(t, r.Join("missing", "room-1"))

	require.True(t, r.InRoom(a.ID, "room-1"))
	require.False(t, r.InRoom(c.ID, "room-1"))
	require.True(t, r.UserViewingRoom("user-b", "room-1"))
	require.False(t, r.UserViewingRoom("user-c", "room-1"))

	require.Equal(t, 1, r.BroadcastToRoom("room-1", "typing", "user-a"))
	require.Empty(t, drain(a))
	require.Len(t, drain(b), 1)
	require.Empty(t, drain(c))

	require.True(t, r.Leave(b.ID, "room-1"))
	require.False(t, r.Leave(b.ID, "room-1"))
	require.Equal(t, 1, r.BroadcastToRoom("room-1", "x", ""))
}

func TestRegistry_UnregisterReturnsJoinedRooms(t *testing.T) {
	r := NewRegistry()
	c := newClient("user-1", "CUSTOMER", nil)
	r.Register(c)
	r.Join(c.ID, "room-1")
	r.Join(c.ID, "room-2")

	rooms := r.Unregister(c.ID)
	sort.Strings(rooms)
	require.Equal(t, []string{"room-1", "room-2"}, rooms)
	require.Zero(t, r.BroadcastToRoom("room-1", "x", ""))
}

func TestClient_EnqueueAfterClose(t *testing.T) {
	c := newClient("user-1", "CUSTOMER", nil)
	require.True(t, c.Enqueue("a"))
	c.Close()
	c.Close()
	require.False(t, c.Enqueue("b"))
}

func requireClosed(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	default:
		t.Fatalf("client %s not closed", c.ID)
	}
}

func TestClient_EnqueueFullQueueEvicts(t *testing.T) {
	c := newClient("user-1", "CUSTOMER", nil)
	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.Enqueue(i))
	}
	require.False(t, c.Evicted())

	require.False(t, c.Enqueue("overflow"))
	require.True(t, c.Evicted())
	requireClosed(t, c)
	require.False(t, c.Enqueue("after eviction"))
}

func TestClient_CloseIsNotEviction(t *testing.T) {
	c := newClient("user-1", "CUSTOMER", nil)
	c.Close()
	require.False(t, c.Enqueue("late"))
	require.False(t, c.Evicted())
}

func TestRegistry_BroadcastEvictsSlowClient(t *testing.T) {
	r := NewRegistry()
	slow := newClient("slow", "CUSTOMER", nil)
	fast := newClient("fast", "MERCHANT", nil)
	r.Register(slow)
	r.Register(fast)
	r.Join(slow.ID, "room-1")
	r.Join(fast.ID, "room-1")

	for i := 0; i < sendBuffer; i++ {
		require.True(t, slow.Enqueue(i))
	}

	require.Equal(t, 1, r.BroadcastToRoom("room-1", "hello", ""))
	require.True(t, slow.Evicted())
	requireClosed(t, slow)
	require.False(t, fast.Evicted())
	require.Equal(t, []any{"hello"}, drain(fast))
}

func TestRegistry_SendToUserEvictsSlowDevice(t *testing.T) {
	r := NewRegistry()
	phone := newClient("user-1", "CUSTOMER", nil)
	laptop := newClient("user-1", "CUSTOMER", nil)
	r.Register(phone)
	r.Register(laptop)

	for i := 0; i < sendBuffer; i++ {
		require.True(t, phone.Enqueue(i))
	}

	require.Equal(t, 1, r.SendToUser("user-1", "ping"))
	require.True(t, phone.Evicted())
	require.False(t, laptop.Evicted())
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	clients := make([]*Client, 20)
	for i := range clients {
		clients[i] = newClient("user", "CUSTOMER", nil)
		r.Register(clients[i])
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Join(c.ID, "room")
				r.BroadcastToRoom("room", i, "")
				r.Leave(c.ID, "room")
			}
			r.Unregister(c.ID)
		}(c)
	}
	wg.Wait()

	require.Zero(t, r.ConnectionCount())
	require.False(t, r.IsOnline("user"))
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a := newClient("u1", "CUSTOMER", nil)
	b := newClient("u2", "MERCHANT", nil)
	r.Register(a)
	r.Register(b)

	require.Equal(t, 2, r.CloseAll())

	for _, c := range []*Client{a, b} {
		select {
		case <-c.Done():
		default:
			t.Fatalf("client %s not closed", c.ID)
		}
		require.False(t, c.Enqueue("late"))
	}
}
