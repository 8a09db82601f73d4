package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/orderboard/internal/application/livecache"
	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpenRequest describes a session to open
type OpenRequest struct {
	Viewer    order.Viewer
	Dashboard string
	Token     string
}

// Manager owns the open dashboard sessions
type Manager struct {
	cfg       Config
	deps      Deps
	directory TeamDirectory
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	janitor  sync.WaitGroup
}

// NewManager creates a session manager. With an idle timeout configured it
// runs a janitor until CloseAll.
func NewManager(cfg Config, deps Deps, directory TeamDirectory) *Manager {
	deps = deps.withDefaults()
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		deps:      deps,
		directory: directory,
		logger:    deps.Logger,
		sessions:  make(map[string]*Session),
		stop:      make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		m.janitor.Add(1)
		go m.expireLoop(cfg.SweepInterval)
	}
	return m
}

func (m *Manager) expireLoop(every time.Duration) {
	defer m.janitor.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.ExpireIdle(m.deps.Clock())
		}
	}
}

// ExpireIdle closes the sessions without watchers that were last touched at
// least the idle timeout before now. It returns the ids it closed.
func (m *Manager) ExpireIdle(now time.Time) []string {
	if m.cfg.IdleTimeout <= 0 {
		return nil
	}
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.WatcherCount() > 0 || now.Sub(s.LastAccess()) < m.cfg.IdleTimeout {
			continue
		}
		idle = append(idle, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, s := range idle {
		if err := s.Close(); err != nil {
			m.logger.Warn("failed to close idle session", zap.String("session_id", s.ID()), zap.Error(err))
		}
		m.logger.Info("idle dashboard session closed",
			zap.String("session_id", s.ID()),
			zap.String("user_id", s.Viewer().ID),
			zap.Time("last_access", s.LastAccess()),
		)
		ids = append(ids, s.ID())
	}
	sort.Strings(ids)
	return ids
}

// Open creates and starts a session. The session is returned even when the
// initial fetch fails; the failure is reported through its notifications.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if req.Viewer.ID == "" {
		return nil, fmt.Errorf("%w: viewer id is required", shared.ErrUnauthorized)
	}
	d, err := livecache.Lookup(req.Dashboard)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	viewer, teamErr := m.resolveTeam(ctx, req.Viewer)
	s := NewSession(uuid.NewString(), viewer, d, req.Token, m.cfg, m.deps)
	if teamErr != nil {
		s.notify(CategoryTeamLookup, SeverityWarning, "Team members could not be loaded. Showing your own orders only.")
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.logger.Warn("initial refresh failed",
			zap.String("session_id", s.ID()),
			zap.Error(err),
		)
	}
	m.logger.Info("dashboard session opened",
		zap.String("session_id", s.ID()),
		zap.String("user_id", viewer.ID),
		zap.String("dashboard", d.Name),
		zap.Bool("team_known", viewer.TeamKnown),
	)
	return s, nil
}

// resolveTeam attaches team membership to team-mode contributors. Any lookup
// failure leaves the membership unknown, which restricts the viewer to their
// own orders.
func (m *Manager) resolveTeam(ctx context.Context, v order.Viewer) (order.Viewer, error) {
	if m.deps.Resolver.IsElevated(v.Role) || v.ScopeMode != order.ScopeModeTeam {
		return v.WithoutTeam(), nil
	}
	if m.directory == nil {
		err := errors.New("no team directory configured")
		m.logger.Warn("team lookup unavailable, falling back to own orders", zap.String("user_id", v.ID))
		return v.WithoutTeam(), err
	}
	members, err := m.directory.MembersOf(ctx, v.ID)
	if err != nil {
		m.logger.Warn("team lookup failed, falling back to own orders",
			zap.String("user_id", v.ID),
			zap.Error(err),
		)
		return v.WithoutTeam(), err
	}
	return v.WithTeam(members), nil
}

// Get returns an open session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, shared.ErrNotFound
	}
	return s, nil
}

// GetFor returns an open session owned by viewerID
func (m *Manager) GetFor(id, viewerID string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.Viewer().ID != viewerID {
		return nil, shared.ErrForbidden
	}
	s.Touch()
	return s, nil
}

// Close closes and forgets a session
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return shared.ErrNotFound
	}
	return s.Close()
}

// CloseAll stops the janitor and closes every session, used on shutdown
func (m *Manager) CloseAll() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.janitor.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(); err != nil {
				m.logger.Warn("failed to close session", zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}
	wg.Wait()
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SessionsOf returns the ids of the sessions owned by viewerID, sorted
func (m *Manager) SessionsOf(viewerID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, s := range m.sessions {
		if s.Viewer().ID == viewerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
