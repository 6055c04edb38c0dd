package dialer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"roofline/internal/audiostream"
	"roofline/internal/calllist"
	"roofline/internal/journal"
	"roofline/internal/projects"
	"roofline/internal/tenant"
	"roofline/internal/voiceagent"
	"roofline/pkg/clock"
	"roofline/pkg/utils"
)

// ErrSessionElsewhere means another process already runs this user's dialer.
// One active call per user is a server invariant; the session lock keeps two
// coordinators from fighting over it.
var ErrSessionElsewhere = errors.New("dialer: session already active elsewhere")

const (
	sessionLockPrefix = "dialer:session:"
	sessionLockTTL    = 30 * time.Second
)

// ManagerConfig wires the external surfaces every session talks to.
type ManagerConfig struct {
	VoiceAgentBaseURL string
	CallListBaseURL   string
	ProjectsBaseURL   string

	HTTPClient *http.Client

	PollInterval time.Duration
	Rules        Rules
}

// Manager owns one Session per user, created on demand.
type Manager struct {
	cfg     ManagerConfig
	rdb     *redis.Client
	tenants *tenant.Store
	journal journal.Repo
	clk     clock.Clock
	log     *slog.Logger

	// lockAcquire/lockRelease guard the one-session-per-user slot. They are
	// fields so tests can supply an in-memory lock.
	lockAcquire func(ctx context.Context, userID, owner string) error
	lockRelease func(userID, owner string)

	mu       sync.Mutex
	sessions map[string]*Session
	lockStop map[string]chan struct{}
	creating map[string]chan struct{}
}

func NewManager(cfg ManagerConfig, rdb *redis.Client, tenants *tenant.Store, repo journal.Repo, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if repo == nil {
		repo = journal.NewMemoryRepo()
	}
	m := &Manager{
		cfg:      cfg,
		rdb:      rdb,
		tenants:  tenants,
		journal:  repo,
		clk:      clock.NewReal(),
		log:      log,
		sessions: make(map[string]*Session),
		lockStop: make(map[string]chan struct{}),
		creating: make(map[string]chan struct{}),
	}
	m.lockAcquire = m.acquireLock
	m.lockRelease = m.releaseLock
	return m
}

// Session returns the user's running session, creating one when absent.
// token is the caller's downstream bearer credential, captured at session
// creation; refresh is out of scope here.
func (m *Manager) Session(ctx context.Context, userID, tenantID, token string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("dialer: user id is required")
	}

	// One creator per user: a concurrent first request waits for the
	// reservation holder instead of racing it for the session lock.
	var reserved chan struct{}
	for {
		m.mu.Lock()
		if s, ok := m.sessions[userID]; ok {
			m.mu.Unlock()
			return s, nil
		}
		pending, busy := m.creating[userID]
		if !busy {
			reserved = make(chan struct{})
			m.creating[userID] = reserved
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer func() {
		m.mu.Lock()
		delete(m.creating, userID)
		m.mu.Unlock()
		close(reserved)
	}()

	tokens := voiceagent.StaticToken(token)
	s := NewSession(userID, tenantID, Deps{
		Gateway:      voiceagent.NewClient(m.cfg.VoiceAgentBaseURL, m.cfg.HTTPClient, tokens),
		List:         calllist.NewClient(m.cfg.CallListBaseURL, m.cfg.HTTPClient, tokens),
		Projects:     projects.NewClient(m.cfg.ProjectsBaseURL, m.cfg.HTTPClient, tokens),
		Audio:        audiostream.NewController(audiostream.NewWebsocketDialer(), m.log),
		Journal:      m.journal,
		Tenants:      m.tenants,
		Clock:        m.clk,
		Log:          m.log,
		PollInterval: m.cfg.PollInterval,
		Rules:        m.cfg.Rules,
	})

	if err := m.lockAcquire(ctx, userID, s.ID()); err != nil {
		s.Close()
		return nil, err
	}

	stop := make(chan struct{})
	m.mu.Lock()
	m.sessions[userID] = s
	m.lockStop[userID] = stop
	m.mu.Unlock()

	if m.rdb != nil {
		go m.keepLockAlive(userID, s.ID(), stop)
	}
	go m.watchIdle(userID, s, stop)
	return s, nil
}

// watchIdle releases the session once the user has stopped the dialer and
// call activity has drained, so a stopped dialer does not keep its poller,
// audio controller and session lock alive until process exit.
func (m *Manager) watchIdle(userID string, s *Session, stop <-chan struct{}) {
	select {
	case <-stop:
	case <-s.Idle():
		m.log.Info("releasing stopped dialer session", "user_id", userID)
		m.CloseSession(userID)
	}
}

// CloseSession tears down and forgets the user's session.
func (m *Manager) CloseSession(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	stop := m.lockStop[userID]
	delete(m.sessions, userID)
	delete(m.lockStop, userID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if stop != nil {
		close(stop)
	}
	s.Close()
	m.lockRelease(userID, s.ID())
}

// CloseAll is used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	users := make([]string, 0, len(m.sessions))
	for u := range m.sessions {
		users = append(users, u)
	}
	m.mu.Unlock()
	for _, u := range users {
		m.CloseSession(u)
	}
}

func (m *Manager) acquireLock(ctx context.Context, userID, owner string) error {
	if m.rdb == nil {
		return nil // single-process deployment; in-memory map is the lock
	}
	ok, err := utils.AcquireSessionLock(ctx, m.rdb, sessionLockPrefix+userID, owner, sessionLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionElsewhere
	}
	return nil
}

func (m *Manager) releaseLock(userID, owner string) {
	if m.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := utils.ReleaseSessionLock(ctx, m.rdb, sessionLockPrefix+userID, owner); err != nil {
		m.log.Warn("session lock release failed", "user_id", userID, "err", err)
	}
}

// keepLockAlive refreshes the TTL while the session runs.
func (m *Manager) keepLockAlive(userID, owner string, stop <-chan struct{}) {
	ticker := time.NewTicker(sessionLockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			ok, err := utils.AcquireSessionLock(ctx, m.rdb, sessionLockPrefix+userID, owner, sessionLockTTL)
			cancel()
			if err != nil {
				m.log.Warn("session lock refresh failed", "user_id", userID, "err", err)
				continue
			}
			if !ok {
				m.log.Error("session lock stolen, closing session", "user_id", userID)
				m.CloseSession(userID)
				return
			}
		}
	}
}
