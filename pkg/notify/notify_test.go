package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/sendemail"
	"marketchat/pkg/users"
)

type recordingNotifier struct {
	mu    sync.Mutex
	got   map[string][]Notification
	fail  bool
	calls int
}

func (r *recordingNotifier) Notify(_ context.Context, userID string, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return errors.New("backend down")
	}
	if r.got == nil {
		r.got = make(map[string][]Notification)
	}
	r.got[userID] = append(r.got[userID], n)
	return nil
}

func (r *recordingNotifier) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got[userID])
}

func TestDispatcher_DeliversQueued(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 2, 8, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), "user-1", Notification{Type: TypeNewMessage, RoomID: "room-1"}))
	}
	require.Eventually(t, func() bool { return rec.count("user-1") == 5 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	d := NewDispatcher(&recordingNotifier{}, 1, 1, zerolog.Nop())
	// No workers running, so the second enqueue has nowhere to go.
	require.NoError(t, d.Notify(context.Background(), "user-1", Notification{}))
	require.ErrorIs(t, d.Notify(context.Background(), "user-1", Notification{}), ErrQueueFull)
}

func TestDispatcher_FailureDoesNotStopWorkers(t *testing.T) {
	rec := &recordingNotifier{fail: true}
	d := NewDispatcher(rec, 1, 4, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.NoError(t, d.Notify(ctx, "user-1", Notification{}))
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.calls == 1
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	rec.fail = false
	rec.mu.Unlock()
	require.NoError(t, d.Notify(ctx, "user-1", Notification{}))
	require.Eventually(t, func() bool { return rec.count("user-1") == 1 }, time.Second, 5*time.Millisecond)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendEmail(ctx context.Context, email sendemail.Email) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func TestEmailNotifier(t *testing.T) {
	mailer := new(mockMailer)
	dir := users.NewMemoryDirectory(
		users.User{UUID: "user-1", Name: "Ana", Email: "ana@example.com", Role: users.RoleCustomer},
		users.User{UUID: "user-2", Name: "No Mail", Role: users.RoleCustomer},
	)
	n := NewEmailNotifier(mailer, dir)

	mailer.On("SendEmail", mock.Anything, mock.MatchedBy(func(e sendemail.Email) bool {
		return e.ToEmail == "ana@example.com" && e.ToName == "Ana" &&
			e.Subject == "You have a new message" &&
			strings.Contains(e.HTML, "&lt;b&gt;hi&lt;/b&gt;")
	})).Return(nil).Once()

	require.NoError(t, n.Notify(context.Background(), "user-1", Notification{Preview: "<b>hi</b>"}))
	require.NoError(t, n.Notify(context.Background(), "user-2", Notification{Preview: "hi"}))
	require.Error(t, n.Notify(context.Background(), "missing", Notification{Preview: "hi"}))

	mailer.AssertExpectations(t)
	mailer.AssertNumberOfCalls(t, "SendEmail", 1)
}
