package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/crucible/internal/config"
	"github.com/mattjoyce/crucible/internal/events"
)

// ErrLimitReached is returned when admission would exceed the configured
// session ceiling.
var ErrLimitReached = errors.New("session limit exceeded")

// ErrDuplicateID is returned when a session id is already registered.
var ErrDuplicateID = errors.New("session id already exists")

// Session statuses. Completed executions return the session to idle as
// soon as the process detaches.
const (
	StatusIdle       = "idle"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusCancelling = "cancelling"
)

// reapInterval is how often the expiry sweep runs.
const reapInterval = time.Minute

// Session is a snapshot of one connection's state. Mutations go through
// Manager methods; callers never hold a live reference.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	Status       string
	PID          int
	PGID         int
	StdoutBytes  int64
	StderrBytes  int64
}

// Running reports whether a process is currently attached.
func (s Session) Running() bool {
	return s.PID != 0
}

type entry struct {
	s     Session
	close func()
}

// Manager tracks active sessions and enforces the concurrency ceiling.
// A single mutex guards the table; admission checks capacity and inserts
// without releasing it, so the ceiling holds under concurrent connects.
type Manager struct {
	cfg    *config.Config
	events *events.Hub
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry

	started time.Time
}

// Stats is the health snapshot exposed over the API.
type Stats struct {
	ActiveSessions int      `json:"active_sessions"`
	MaxSessions    int      `json:"max_sessions"`
	UptimeSeconds  float64  `json:"uptime_seconds"`
	SessionIDs     []string `json:"session_ids"`
}

func New(cfg *config.Config, hub *events.Hub, logger *slog.Logger) *Manager {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Manager{
		cfg:      cfg,
		events:   hub,
		logger:   logger.With("component", "session"),
		stopCh:   make(chan struct{}),
		sessions: make(map[string]*entry),
		started:  time.Now(),
	}
}

// Create admits a new session or returns ErrLimitReached. closeFn is
// invoked if the expiry sweep evicts the session later; it may be nil.
func (m *Manager) Create(id string, closeFn func()) (Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return Session{}, ErrDuplicateID
	}
	if len(m.sessions) >= m.cfg.Limits.MaxSessions {
		active := len(m.sessions)
		m.mu.Unlock()
		m.logger.Warn("Session limit reached", "active", active, "max", m.cfg.Limits.MaxSessions)
		return Session{}, ErrLimitReached
	}

	now := time.Now()
	e := &entry{
		s: Session{
			ID:           id,
			CreatedAt:    now,
			LastActivity: now,
			Status:       StatusIdle,
		},
		close: closeFn,
	}
	m.sessions[id] = e
	active := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("Session created", "session_id", id, "active", active, "max", m.cfg.Limits.MaxSessions)
	m.events.Publish("session.created", id, map[string]any{
		"active": active,
		"max":    m.cfg.Limits.MaxSessions,
	})
	return e.s, nil
}

// Get returns a snapshot of the session and refreshes its activity clock.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	e.s.LastActivity = time.Now()
	return e.s, true
}

// Touch refreshes the activity clock without returning state.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	e.s.LastActivity = time.Now()
	return true
}

// SetProcess attaches a running process to the session.
func (m *Manager) SetProcess(id string, pid, pgid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	e.s.PID = pid
	e.s.PGID = pgid
	e.s.Status = StatusRunning
	e.s.LastActivity = time.Now()
	return true
}

// SetStatus records a control-induced status transition.
func (m *Manager) SetStatus(id, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	e.s.Status = status
	e.s.LastActivity = time.Now()
	return true
}

// ClearProcess detaches the finished process and returns the snapshot as
// it stood at completion.
func (m *Manager) ClearProcess(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	snap := e.s
	e.s.PID = 0
	e.s.PGID = 0
	e.s.Status = StatusIdle
	e.s.LastActivity = time.Now()
	return snap, true
}

// AddOutputBytes accumulates per-stream output totals reported by the
// stream pumps.
func (m *Manager) AddOutputBytes(id string, stdout, stderr int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	e.s.StdoutBytes += stdout
	e.s.StderrBytes += stderr
	return true
}

// Remove drops the session and returns its final snapshot.
func (m *Manager) Remove(id string) (Session, bool) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return Session{}, false
	}
	m.logger.Info("Session removed", "session_id", id, "active", active, "max", m.cfg.Limits.MaxSessions)
	m.events.Publish("session.closed", id, map[string]any{
		"active": active,
		"max":    m.cfg.Limits.MaxSessions,
	})
	return e.s, true
}

// Active returns snapshots of all sessions, oldest first.
func (m *Manager) Active() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stats reports the current table state for health endpoints.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return Stats{
		ActiveSessions: len(m.sessions),
		MaxSessions:    m.cfg.Limits.MaxSessions,
		UptimeSeconds:  time.Since(m.started).Seconds(),
		SessionIDs:     ids,
	}
}

// Start begins the expiry sweep loop.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting session manager", "max_sessions", m.cfg.Limits.MaxSessions)

	m.wg.Add(1)
	go m.reapLoop(ctx)
	return nil
}

// Stop halts the expiry sweep.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager")
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) reapLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanupExpired(m.cfg.Service.SessionTimeout)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CleanupExpired evicts sessions idle longer than timeout and returns how
// many were removed. Close callbacks run after the lock is released.
func (m *Manager) CleanupExpired(timeout time.Duration) int {
	now := time.Now()

	m.mu.Lock()
	var expired []*entry
	for id, e := range m.sessions {
		if now.Sub(e.s.LastActivity) > timeout {
			expired = append(expired, e)
			delete(m.sessions, id)
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	for _, e := range expired {
		m.logger.Info("Expired session cleaned up", "session_id", e.s.ID, "idle", now.Sub(e.s.LastActivity).String())
		m.events.Publish("session.expired", e.s.ID, map[string]any{
			"active": active,
			"max":    m.cfg.Limits.MaxSessions,
		})
		if e.close != nil {
			e.close()
		}
	}
	return len(expired)
}
