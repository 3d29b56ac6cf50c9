package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/agent"
	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/endpoint"
)

// Defaults for the housekeeping sweep and per-user bound.
const (
	DefaultIdleTimeout   = time.Hour
	DefaultSweepInterval = 30 * time.Minute
	DefaultMaxPerUser    = 20
)

// Runner drives one agent turn. Satisfied by agent.Pipeline.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Config bounds session lifecycle behavior.
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxPerUser    int
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = DefaultMaxPerUser
	}
	return c
}

// Manager owns session lifecycle and turn ordering. Turns within one
// session are serialized; sessions proceed independently.
type Manager struct {
	store  Store
	runner Runner
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	turns    map[string]*sync.Mutex
	liveURLs map[string]string
}

// NewManager creates a session manager.
func NewManager(store Store, runner Runner, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		runner:   runner,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("session"),
		now:      time.Now,
		turns:    make(map[string]*sync.Mutex),
		liveURLs: make(map[string]string),
	}
}

// Join attaches a user to a session, creating it when absent. A session
// owned by another user is never joinable.
func (m *Manager) Join(ctx context.Context, sessionID, userID string) (*Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return m.createSession(ctx, sessionID, userID, "")
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: session belongs to another user", apperrors.ErrUnauthorized)
	}

	sess.Active = true
	sess.LastActivity = m.now()
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Create starts a fresh session with a generated id.
func (m *Manager) Create(ctx context.Context, userID, title string) (*Session, error) {
	return m.createSession(ctx, uuid.NewString(), userID, title)
}

func (m *Manager) createSession(ctx context.Context, sessionID, userID, title string) (*Session, error) {
	n, err := m.store.CountUserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n >= int64(m.cfg.MaxPerUser) {
		return nil, fmt.Errorf("%w: session limit of %d reached", apperrors.ErrBadInput, m.cfg.MaxPerUser)
	}

	now := m.now()
	sess := &Session{
		ID:           sessionID,
		UserID:       userID,
		Title:        title,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		zap.String("sessionId", sessionID),
		zap.String("userId", userID))
	return sess, nil
}

// Get loads a session with an ownership check.
func (m *Manager) Get(ctx context.Context, sessionID, userID string) (*Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSessionNotFound, sessionID)
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: session belongs to another user", apperrors.ErrUnauthorized)
	}
	return sess, nil
}

// List returns the user's sessions, most recently active first.
func (m *Manager) List(ctx context.Context, userID string) ([]*Session, error) {
	return m.store.ListSessions(ctx, userID)
}

// Messages returns a session's transcript after an ownership check.
func (m *Manager) Messages(ctx context.Context, sessionID, userID string, limit int64) ([]*ChatMessage, error) {
	if _, err := m.Get(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return m.store.ListMessages(ctx, sessionID, limit)
}

// Delete removes a session owned by the caller, its transcript included.
func (m *Manager) Delete(ctx context.Context, sessionID, userID string) error {
	if _, err := m.Get(ctx, sessionID, userID); err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.liveURLs, sessionID)
	delete(m.turns, sessionID)
	m.mu.Unlock()
	return nil
}

// SendInput is one inbound user turn on a session.
type SendInput struct {
	SessionID string
	UserID    string
	Text      string
	DBUrl     string
	DBType    string
	DryRun    bool
	Verbose   bool
}

// SendResult pairs the agent response with the transcript entries it
// produced.
type SendResult struct {
	Response     *agent.Response
	UserMessage  *ChatMessage
	AgentMessage *ChatMessage
}

// Send processes one turn: append the user message, resolve the effective
// endpoint, drive the agent, append the agent message, and roll the session
// context forward. Turns on the same session run one at a time.
func (m *Manager) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	lock := m.turnLock(in.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.Get(ctx, in.SessionID, in.UserID)
	if err != nil {
		return nil, err
	}

	userMsg := &ChatMessage{
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Text:      in.Text,
		Role:      RoleUser,
		Timestamp: m.now(),
	}
	if err := m.store.InsertMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	ep, err := m.resolveEndpoint(sess, in)
	if err != nil {
		return nil, err
	}

	start := m.now()
	resp, err := m.runner.Run(ctx, agent.Request{
		UserID:   in.UserID,
		Text:     in.Text,
		Endpoint: ep,
		DryRun:   in.DryRun,
		Verbose:  in.Verbose,
	})
	if err != nil {
		return nil, err
	}

	agentMsg := &ChatMessage{
		SessionID: in.SessionID,
		UserID:    AgentUserID,
		Text:      resp.Message,
		Role:      RoleAgent,
		Timestamp: m.now(),
		Metadata: &MessageMetadata{
			ExecutionMillis: m.now().Sub(start).Milliseconds(),
			DataRetrieved:   resp.Data != nil,
		},
	}
	if agentMsg.Timestamp.Before(userMsg.Timestamp) {
		agentMsg.Timestamp = userMsg.Timestamp
	}
	if err := m.store.InsertMessage(ctx, agentMsg); err != nil {
		return nil, err
	}

	sess.MessageCount += 2
	sess.LastActivity = m.now()
	sess.Context.pushRecentQuery(in.Text)
	if ep.URL != "" {
		sess.Context.LastDBEndpoint = &StoredEndpoint{
			NormalizedURL: ep.Normalized(),
			Kind:          ep.Kind,
		}
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	return &SendResult{Response: resp, UserMessage: userMsg, AgentMessage: agentMsg}, nil
}

// resolveEndpoint picks the turn's database target: an explicit override
// wins and refreshes the live-URL cache; otherwise the cached live URL for
// the session; otherwise the persisted credential-free endpoint.
func (m *Manager) resolveEndpoint(sess *Session, in SendInput) (endpoint.Endpoint, error) {
	if in.DBUrl != "" {
		kind, ok := endpoint.KindFromString(in.DBType)
		if !ok {
			return endpoint.Endpoint{}, fmt.Errorf("%w: unknown dbType %q", apperrors.ErrBadInput, in.DBType)
		}
		ep, err := endpoint.Parse(in.DBUrl, kind)
		if err != nil {
			return endpoint.Endpoint{}, err
		}
		m.mu.Lock()
		m.liveURLs[sess.ID] = in.DBUrl
		m.mu.Unlock()
		return ep, nil
	}

	m.mu.Lock()
	live := m.liveURLs[sess.ID]
	m.mu.Unlock()

	last := sess.Context.LastDBEndpoint
	if live != "" && last != nil {
		return endpoint.Parse(live, last.Kind)
	}
	if last != nil {
		// After a restart only the credential-free URL survives; it still
		// works for databases that accept unauthenticated connections.
		return endpoint.Parse(last.NormalizedURL, last.Kind)
	}
	return endpoint.Endpoint{}, nil
}

func (m *Manager) turnLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.turns[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.turns[sessionID] = lock
	}
	return lock
}

// Sweep marks sessions idle when lastActivity is older than the timeout.
func (m *Manager) Sweep(ctx context.Context) {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)
	n, err := m.store.MarkIdle(ctx, cutoff)
	if err != nil {
		m.logger.Warn("idle sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("marked idle sessions", zap.Int64("count", n))
	}
}

// StartSweeper runs the housekeeping sweep until ctx is canceled.
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}
