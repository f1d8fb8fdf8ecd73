package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
)

// Removal reasons reported to the metrics recorder.
const (
	ReasonExpired = "expired"
	ReasonClosed  = "closed"
	ReasonEvicted = "evicted"
)

var (
	// ErrStoreStopped is returned after Stop.
	ErrStoreStopped = errors.New("session store stopped")

	// ErrSessionLimit is returned when MaxSessions is reached and no idle
	// session can be evicted.
	ErrSessionLimit = errors.New("session limit reached")
)

// Config holds configuration options for the Store.
type Config struct {
	// IdleTimeout is how long a session may go without an exchange before
	// ExpireIdle removes it.
	//
	// Default: 30 minutes.
	IdleTimeout time.Duration

	// HistoryLimit is the number of exchanges kept per session. The oldest
	// exchange is dropped first.
	//
	// Default: 10.
	HistoryLimit int

	// CleanupInterval is how often the background loop calls ExpireIdle.
	// A negative value disables the loop; expiry is then triggered externally.
	//
	// Default: 1 minute.
	CleanupInterval time.Duration

	// MaxSessions caps the number of live sessions. When reached, the least
	// recently active idle session is evicted to make room.
	//
	// Default: 10000.
	MaxSessions int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:     30 * time.Minute,
		HistoryLimit:    10,
		CleanupInterval: 1 * time.Minute,
		MaxSessions:     10000,
	}
}

// MetricsRecorder defines the interface for recording session metrics.
type MetricsRecorder interface {
	// RecordSessionCreated records a new session.
	RecordSessionCreated(ctx context.Context)

	// RecordSessionsRemoved records sessions leaving the store.
	RecordSessionsRemoved(ctx context.Context, reason string, count int)

	// SetActiveSessions sets the current session count gauge.
	SetActiveSessions(ctx context.Context, count int)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) RecordSessionCreated(context.Context)               {}
func (noopMetricsRecorder) RecordSessionsRemoved(context.Context, string, int) {}
func (noopMetricsRecorder) SetActiveSessions(context.Context, int)             {}

// Store owns every Session. Sessions live for the process lifetime at most.
//
// The store lock guards only the session map. Exchanges on one session are
// serialized by a per-session semaphore, so a slow adapter call never blocks
// other sessions.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool

	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Clock abstraction for testing
	now func() time.Time
}

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithConfig sets the store configuration.
func WithConfig(config Config) Option {
	return func(s *Store) {
		s.config = config
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(s *Store) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// withClock sets the clock function for testing.
func withClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store. Unless CleanupInterval is negative, a background
// goroutine expires idle sessions until Stop is called.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*session),
		config:   DefaultConfig(),
		logger:   slog.Default(),
		metrics:  noopMetricsRecorder{},
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	defaults := DefaultConfig()
	if s.config.IdleTimeout <= 0 {
		s.config.IdleTimeout = defaults.IdleTimeout
	}
	if s.config.HistoryLimit <= 0 {
		s.config.HistoryLimit = defaults.HistoryLimit
	}
	if s.config.CleanupInterval == 0 {
		s.config.CleanupInterval = defaults.CleanupInterval
	}
	if s.config.MaxSessions <= 0 {
		s.config.MaxSessions = defaults.MaxSessions
	}

	if s.config.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}

	s.logger.Info("Session store initialized",
		"idle_timeout", s.config.IdleTimeout,
		"history_limit", s.config.HistoryLimit,
		"cleanup_interval", s.config.CleanupInterval,
		"max_sessions", s.config.MaxSessions)

	return s
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// GetOrCreate returns a snapshot of the session, creating it if needed.
func (s *Store) GetOrCreate(id string) (Snapshot, error) {
	s.mu.Lock()
	sess, err := s.getOrCreateLocked(id)
	s.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}
	return sess.snapshot(), nil
}

// getOrCreateLocked must be called with s.mu held.
func (s *Store) getOrCreateLocked(id string) (*session, error) {
	if s.stopped {
		return nil, &dispatch.SessionStoreError{SessionID: id, Err: ErrStoreStopped}
	}
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	if len(s.sessions) >= s.config.MaxSessions && !s.evictLocked() {
		return nil, &dispatch.SessionStoreError{SessionID: id, Err: ErrSessionLimit}
	}

	sess := newSession(id, s.now())
	s.sessions[id] = sess
	s.metrics.RecordSessionCreated(context.Background())
	s.metrics.SetActiveSessions(context.Background(), len(s.sessions))
	s.logger.Debug("Session created", logging.SessionHash(id))
	return sess, nil
}

// evictLocked removes the least recently active session nobody holds.
func (s *Store) evictLocked() bool {
	var victim *session
	var oldest time.Time
	for _, sess := range s.sessions {
		if sess.waiters > 0 {
			continue
		}
		if at := sess.idleSince(); victim == nil || at.Before(oldest) {
			victim, oldest = sess, at
		}
	}
	if victim == nil {
		return false
	}
	s.removeLocked(victim)
	s.metrics.RecordSessionsRemoved(context.Background(), ReasonEvicted, 1)
	s.logger.Warn("Session evicted at capacity", logging.SessionHash(victim.id))
	return true
}

func (s *Store) removeLocked(sess *session) {
	delete(s.sessions, sess.id)
	sess.closed = true
	s.metrics.SetActiveSessions(context.Background(), len(s.sessions))
}

// Acquire returns a handle holding the session's exchange lock, creating the
// session if needed. It blocks while another handle holds the session and
// honors ctx while waiting. The caller must Release the handle.
func (s *Store) Acquire(ctx context.Context, id string) (*Handle, error) {
	for {
		s.mu.Lock()
		sess, err := s.getOrCreateLocked(id)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		sess.waiters++
		s.mu.Unlock()

		select {
		case sess.sem <- struct{}{}:
		case <-ctx.Done():
			s.mu.Lock()
			sess.waiters--
			s.mu.Unlock()
			return nil, &dispatch.SessionStoreError{SessionID: id, Err: ctx.Err()}
		}

		s.mu.Lock()
		closed := sess.closed
		if closed {
			sess.waiters--
		}
		s.mu.Unlock()

		if !closed {
			return &Handle{store: s, sess: sess}, nil
		}
		// Closed while waiting: start over on a fresh session.
		<-sess.sem
	}
}

// Record appends an exchange to the session's bounded history.
func (s *Store) Record(ctx context.Context, id string, req dispatch.Request, res *dispatch.Result) error {
	h, err := s.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer h.Release()
	h.Record(req, res)
	return nil
}

// Get returns a snapshot of an existing session.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// Close removes a session. It reports whether the session existed.
// A handle already holding the session may finish its exchange.
func (s *Store) Close(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	s.removeLocked(sess)
	s.metrics.RecordSessionsRemoved(context.Background(), ReasonClosed, 1)
	s.logger.Debug("Session closed", logging.SessionHash(id))
	return true
}

// List returns summaries of every live session sorted by identifier.
func (s *Store) List() []Summary {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ExpireIdle removes sessions whose last activity is older than the idle
// timeout relative to now. Sessions currently held by a handle are skipped.
// It returns the number of sessions removed.
func (s *Store) ExpireIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, sess := range s.sessions {
		if sess.waiters > 0 {
			continue
		}
		if now.Sub(sess.idleSince()) > s.config.IdleTimeout {
			s.removeLocked(sess)
			expired++
		}
	}

	if expired > 0 {
		s.metrics.RecordSessionsRemoved(context.Background(), ReasonExpired, expired)
		s.logger.Debug("Expired idle sessions",
			"expired", expired,
			"remaining", len(s.sessions))
	}
	return expired
}

// cleanupLoop periodically expires idle sessions.
func (s *Store) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ExpireIdle(s.now())
		}
	}
}

// Stop halts the cleanup loop and drops every session. It is safe to call
// more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
		count := len(s.sessions)
		for _, sess := range s.sessions {
			s.removeLocked(sess)
		}
		s.logger.Info("Session store stopped", "sessions_dropped", count)
	})
}
