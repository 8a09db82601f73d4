package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/orderboard/internal/application/livecache"
	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_OpenValidatesRequest(t *testing.T) {
	h := newHarness()
	m := NewManager(Config{}, h.deps, nil)
	defer m.CloseAll()

	_, err := m.Open(context.Background(), OpenRequest{Dashboard: livecache.DashboardAll})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = m.Open(context.Background(), OpenRequest{Viewer: sales, Dashboard: "unknown"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Equal(t, 0, m.Len())
}

func TestManager_OpenKeepsSessionOnFetchFailure(t *testing.T) {
	h := newHarness()
	h.fetcher.set(categorized{category: CategoryServerUnavailable})
	m := NewManager(Config{}, h.deps, nil)
	defer m.CloseAll()

	s, err := m.Open(context.Background(), OpenRequest{Viewer: sales, Dashboard: livecache.DashboardDispatch, Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 0, s.Cache().Len())

	notes := drain(s.Notifications())
	require.Len(t, notes, 1)
	assert.Equal(t, CategoryServerUnavailable, notes[0].Category)
}

func TestManager_TeamLookup(t *testing.T) {
	docs := []string{
		`{"_id":"own","createdBy":"L1"}`,
		`{"_id":"member","createdBy":"U2"}`,
		`{"_id":"other","createdBy":"U9"}`,
	}
	leader := order.Viewer{ID: "L1", DisplayName: "Lead", Role: "Sales", ScopeMode: order.ScopeModeTeam}

	t.Run("members resolved", func(t *testing.T) {
		h := newHarness(docs...)
		m := NewManager(Config{}, h.deps, &fakeDirectory{members: map[string][]string{"L1": {"U2"}}})
		defer m.CloseAll()

		s, err := m.Open(context.Background(), OpenRequest{Viewer: leader, Dashboard: livecache.DashboardAll})
		require.NoError(t, err)
		assert.True(t, s.Viewer().TeamKnown)
		assert.ElementsMatch(t, []string{"own", "member"}, recordIDs(s.CurrentView().Records))
		assert.Empty(t, drain(s.Notifications()))
	})

	t.Run("lookup failure falls back to own orders", func(t *testing.T) {
		h := newHarness(docs...)
		m := NewManager(Config{}, h.deps, &fakeDirectory{err: errors.New("db down")})
		defer m.CloseAll()

		s, err := m.Open(context.Background(), OpenRequest{Viewer: leader, Dashboard: livecache.DashboardAll})
		require.NoError(t, err)
		assert.False(t, s.Viewer().TeamKnown)
		assert.Equal(t, []string{"own"}, recordIDs(s.CurrentView().Records))

		notes := drain(s.Notifications())
		require.Len(t, notes, 1)
		assert.Equal(t, CategoryTeamLookup, notes[0].Category)
	})

	t.Run("no directory", func(t *testing.T) {
		h := newHarness(docs...)
		m := NewManager(Config{}, h.deps, nil)
		defer m.CloseAll()

		s, err := m.Open(context.Background(), OpenRequest{Viewer: leader, Dashboard: livecache.DashboardAll})
		require.NoError(t, err)
		assert.Equal(t, []string{"own"}, recordIDs(s.CurrentView().Records))
	})

	t.Run("elevated viewers skip the lookup", func(t *testing.T) {
		h := newHarness(docs...)
		dir := &fakeDirectory{err: errors.New("must not be called")}
		m := NewManager(Config{}, h.deps, dir)
		defer m.CloseAll()

		admin := order.Viewer{ID: "A1", Role: "SuperAdmin", ScopeMode: order.ScopeModeTeam}
		s, err := m.Open(context.Background(), OpenRequest{Viewer: admin, Dashboard: livecache.DashboardAll})
		require.NoError(t, err)
		assert.Len(t, s.CurrentView().Records, 3)
		assert.Empty(t, drain(s.Notifications()))
	})
}

func TestManager_GetFor(t *testing.T) {
	h := newHarness()
	m := NewManager(Config{}, h.deps, nil)
	defer m.CloseAll()

	s, err := m.Open(context.Background(), OpenRequest{Viewer: sales, Dashboard: livecache.DashboardAll})
	require.NoError(t, err)

	got, err := m.GetFor(s.ID(), sales.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.GetFor(s.ID(), "someone-else")
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.Equal(t, []string{s.ID()}, m.SessionsOf(sales.ID))
}

func TestManager_OpenCloseCyclesLeaveNoListeners(t *testing.T) {
	h := newHarness(`{"_id":"a","createdBy":"U1"}`)
	m := NewManager(Config{}, h.deps, nil)

	for i := 0; i < 5; i++ {
		s, err := m.Open(context.Background(), OpenRequest{Viewer: sales, Dashboard: livecache.DashboardAll})
		require.NoError(t, err)
		_, cancel := s.Watch(4)
		defer cancel()
		require.NoError(t, m.Close(s.ID()))
		assert.True(t, s.Closed())
	}

	assert.Equal(t, 0, h.bus.count())
	assert.Equal(t, 0, m.Len())
	for _, sub := range h.push.subs {
		assert.True(t, sub.closed.Load())
	}
	assert.ErrorIs(t, m.Close("missing"), shared.ErrNotFound)
}

func TestManager_CloseAll(t *testing.T) {
	h := newHarness()
	m := NewManager(Config{}, h.deps, nil)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := m.Open(context.Background(), OpenRequest{Viewer: sales, Dashboard: livecache.DashboardAll})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	m.CloseAll()

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, h.bus.count())
	for _, s := range sessions {
		assert.True(t, s.Closed())
	}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestManager_ExpireIdle(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)}
	h := newHarness(`{"_id":"a","createdBy":"U1"}`)
	h.deps.Clock = clock.Now
	m := NewManager(Config{IdleTimeout: 30 * time.Minute, SweepInterval: time.Hour}, h.deps, nil)
	defer m.CloseAll()

	ctx := context.Background()
	open := func() *Session {
		s, err := m.Open(ctx, OpenRequest{Viewer: sales, Dashboard: livecache.DashboardAll})
		require.NoError(t, err)
		return s
	}
	idle, used, watched := open(), open(), open()
	_, stopWatching := watched.Watch(1)
	require.Equal(t, 3, h.bus.count())

	clock.Advance(20 * time.Minute)
	_, err := m.GetFor(used.ID(), sales.ID)
	require.NoError(t, err)
	assert.Empty(t, m.ExpireIdle(clock.Now()))

	clock.Advance(15 * time.Minute)
	assert.Equal(t, []string{idle.ID()}, m.ExpireIdle(clock.Now()))
	assert.True(t, idle.Closed())
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2, h.bus.count(), "expired session detaches its bus handler")
	_, err = m.Get(idle.ID())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// a watched session stays open; detaching the watcher counts as access
	clock.Advance(time.Hour)
	stopWatching()
	assert.Equal(t, []string{used.ID()}, m.ExpireIdle(clock.Now()))

	clock.Advance(30 * time.Minute)
	assert.Equal(t, []string{watched.ID()}, m.ExpireIdle(clock.Now()))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, h.bus.count())

	h.push.mu.Lock()
	defer h.push.mu.Unlock()
	require.Len(t, h.push.subs, 3)
	for _, sub := range h.push.subs {
		assert.True(t, sub.closed.Load())
	}
}

func TestManager_ExpireIdleDisabled(t *testing.T) {
	h := newHarness()
	m := NewManager(Config{}, h.deps, nil)
	defer m.CloseAll()

	_, err := m.Open(context.Background(), OpenRequest{Viewer: sales, Dashboard: livecache.DashboardAll})
	require.NoError(t, err)
	assert.Empty(t, m.ExpireIdle(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, m.Len())
}

func TestManager_JanitorClosesIdleSessions(t *testing.T) {
	h := newHarness(`{"_id":"a","createdBy":"U1"}`)
	h.deps.Clock = time.Now
	m := NewManager(Config{IdleTimeout: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond}, h.deps, nil)

	s, err := m.Open(context.Background(), OpenRequest{Viewer: sales, Dashboard: livecache.DashboardAll})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Closed())
	assert.Equal(t, 0, h.bus.count())

	done := make(chan struct{})
	go func() {
		m.CloseAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CloseAll did not stop the janitor")
	}
}
