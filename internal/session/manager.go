package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/conductor/internal/acp"
	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/provider"
	"github.com/ShayCichocki/conductor/internal/trace"
)

// subscriberBuffer is the channel capacity given to each subscriber.
const subscriberBuffer = 64

// Command describes how to launch an agent.
type Command struct {
	Path string
	Args []string
	// Env entries are "KEY=value" and extend the current environment.
	Env []string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

type subscriber struct {
	ch   chan provider.Update
	done chan struct{}
	once sync.Once

	// mu is held for the whole of a send so close never races it.
	mu     sync.Mutex
	closed bool
}

func (s *subscriber) send(up provider.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- up:
	case <-s.done:
	}
}

// close releases a blocked send through done, then closes ch so readers
// ranging over it stop.
func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// entry is the registry slot of one session. proc and conn are set once by
// StartAgent and only read afterwards; both are guarded by Manager.mu.
type entry struct {
	record Record
	proc   *Process
	conn   *acp.Conn
	norm   *provider.Normalizer

	// starting reserves the session for one StartAgent call.
	starting bool

	// turn serializes prompts; an agent handles one turn at a time.
	turn sync.Mutex

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
	ended   bool
}

// Manager owns the session registry and the agent processes attached to it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	recorder trace.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder forwards every normalized update to rec.
func WithRecorder(rec trace.Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = rec }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source for CreatedAt.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty session manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*entry),
		recorder: trace.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// CreateSession registers a session without spawning anything. An empty id
// gets a generated uuid; a duplicate id is a validation error.
func (m *Manager) CreateSession(id, cwd, workspaceID, providerName string, opts Options) (Record, error) {
	if id == "" {
		id = uuid.NewString()
	}
	rec := Record{
		SessionID:   id,
		Cwd:         cwd,
		WorkspaceID: workspaceID,
		Provider:    providerName,
		ModeID:      opts.ModeID,
		Model:       opts.Model,
		Role:        opts.Role,
		Name:        opts.Name,
		CreatedAt:   m.now().UTC(),
		State:       StateCreated,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return Record{}, errs.Validation("create session", "session %s already exists", id)
	}
	m.sessions[id] = &entry{
		record: rec,
		norm:   provider.NewNormalizer(id, providerName),
		subs:   make(map[int]*subscriber),
	}
	m.logger.Debug("session created", "session_id", id, "provider", providerName, "workspace", workspaceID)
	return rec, nil
}

// Get returns a copy of a session's record.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// List returns a snapshot of all records ordered by creation time then id.
func (m *Manager) List() []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.record)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Rename sets a session's display name. It returns false if id is unknown.
func (m *Manager) Rename(id, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	e.record.Name = name
	return true
}

// Delete unregisters a session, kills its process and ends its
// subscriptions. It returns false if id is unknown.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.mu.RLock()
	proc := e.proc
	m.mu.RUnlock()
	if proc != nil {
		proc.Kill()
	}
	m.endSubscriptions(e)
	m.logger.Debug("session deleted", "session_id", id)
	return true
}

// endSubscriptions closes every subscriber channel of e. Later Subscribe
// calls get a closed channel.
func (m *Manager) endSubscriptions(e *entry) {
	e.subMu.Lock()
	subs := e.subs
	e.subs = make(map[int]*subscriber)
	e.ended = true
	e.subMu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// Remove is Delete for callers that don't care whether the id existed.
func (m *Manager) Remove(id string) {
	m.Delete(id)
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, errs.NotFound("session", id)
	}
	return e, nil
}

func (m *Manager) setState(e *entry, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.record.transition(next)
}

func (m *Manager) state(e *entry) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.record.State
}

// StartAgent spawns the agent for a created session and performs the ACP
// handshake. On success the session is active and its updates flow to
// subscribers and the trace recorder.
func (m *Manager) StartAgent(ctx context.Context, id string, command Command) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if e.record.State != StateCreated || e.starting || e.proc != nil {
		state := e.record.State
		m.mu.Unlock()
		if state == StateCreated {
			return errs.Validation("start agent", "session %s is already starting", id)
		}
		return errs.Validation("start agent", "session %s is %s", id, state)
	}
	e.starting = true
	cwd := e.record.Cwd
	modeID := e.record.ModeID
	m.mu.Unlock()

	// The process outlives the handshake context.
	proc, err := SpawnAgentProcess(context.WithoutCancel(ctx), command.Path, command.Args, cwd, command.Env)
	if err != nil {
		m.fail(e, err)
		m.endSubscriptions(e)
		return err
	}

	conn := acp.NewConn(proc.Stdout(), proc.Stdin(), acp.Options{
		OnNotification: m.notificationHandler(e),
		OnRequest:      m.requestHandler(e),
		Logger:         m.logger.With("session_id", id),
	})

	agentSessionID, err := handshake(ctx, conn, cwd, modeID, m.logger)
	if err != nil {
		proc.Kill()
		err = fmt.Errorf("start agent %s: %w", command.Path, err)
		m.fail(e, err)
		m.endSubscriptions(e)
		return err
	}

	m.mu.Lock()
	e.starting = false
	if m.sessions[id] != e {
		m.mu.Unlock()
		// Deleted while the handshake was in flight.
		proc.Kill()
		return errs.NotFound("session", id)
	}
	err = e.record.transition(StateActive)
	if err == nil {
		e.proc = proc
		e.conn = conn
		e.record.AgentSessionID = agentSessionID
		e.record.PID = proc.PID()
	}
	m.mu.Unlock()
	if err != nil {
		// Cancelled or closed while the handshake was in flight.
		proc.Kill()
		m.endSubscriptions(e)
		return err
	}

	go m.watchProcess(e, proc, conn)
	m.logger.Info("agent started", "session_id", id, "command", command.String(), "pid", proc.PID())
	return nil
}

func handshake(ctx context.Context, conn *acp.Conn, cwd, modeID string, logger *slog.Logger) (string, error) {
	var init acp.InitializeResult
	err := conn.Call(ctx, acp.MethodInitialize, acp.InitializeParams{
		ProtocolVersion: acp.ProtocolVersion,
	}, &init)
	if err != nil {
		return "", fmt.Errorf("initialize: %w", err)
	}

	var created acp.NewSessionResult
	err = conn.Call(ctx, acp.MethodSessionNew, acp.NewSessionParams{Cwd: cwd, MCPServers: []any{}}, &created)
	if err != nil {
		return "", fmt.Errorf("session/new: %w", err)
	}
	if created.SessionID == "" {
		return "", errs.Protocol("session/new returned no sessionId", nil)
	}

	if modeID != "" {
		err := conn.Call(ctx, acp.MethodSessionSetMode, acp.SetModeParams{SessionID: created.SessionID, ModeID: modeID}, nil)
		if err != nil {
			logger.Warn("agent rejected session mode", "mode", modeID, "error", err)
		}
	}
	return created.SessionID, nil
}

// fail marks a session failed if it has not already ended.
func (m *Manager) fail(e *entry, cause error) {
	if err := m.setState(e, StateFailed); err != nil {
		return
	}
	m.publish(e, e.norm.Error(cause.Error()))
}

// watchProcess settles the session when the agent exits on its own.
func (m *Manager) watchProcess(e *entry, proc *Process, conn *acp.Conn) {
	defer m.endSubscriptions(e)
	<-conn.Done()
	err := proc.Wait()
	if m.state(e).Terminal() {
		return
	}
	if err != nil {
		m.logger.Warn("agent exited", "session_id", e.record.SessionID, "error", err)
		m.fail(e, err)
		return
	}
	_ = m.setState(e, StateCompleted)
}

func (m *Manager) notificationHandler(e *entry) acp.NotificationHandler {
	return func(method string, params json.RawMessage) {
		if method != acp.MethodSessionUpdate {
			m.logger.Debug("ignoring agent notification", "method", method)
			return
		}
		up, err := e.norm.Normalize(params)
		if err != nil {
			m.logger.Warn("dropping session update", "session_id", e.record.SessionID, "error", err)
			return
		}
		if up == nil {
			return
		}
		m.publish(e, up)
	}
}

func (m *Manager) requestHandler(e *entry) acp.RequestHandler {
	return func(_ context.Context, method string, params json.RawMessage) (any, error) {
		switch method {
		case acp.MethodRequestPermission:
			var req acp.RequestPermissionParams
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, &acp.RPCError{Code: acp.CodeInvalidParams, Message: err.Error()}
			}
			res := acp.AutoAllow(req)
			m.logger.Debug("permission requested", "session_id", e.record.SessionID, "outcome", res.Outcome.Outcome, "option", res.Outcome.OptionID)
			return res, nil
		default:
			return nil, &acp.RPCError{Code: acp.CodeMethodNotFound, Message: "method not found: " + method}
		}
	}
}

// publish forwards an update to the trace recorder and every subscriber.
// Recorder failures are logged and never reach the session.
func (m *Manager) publish(e *entry, up *provider.Update) {
	if ev, err := trace.NewEvent(trace.KindSessionUpdate, up); err != nil {
		m.logger.Warn("encode trace event", "error", err)
	} else {
		ev.SessionID = up.SessionID
		if err := trace.Safe(context.Background(), m.recorder, ev); err != nil {
			m.logger.Warn("trace recorder failed", "session_id", up.SessionID, "error", err)
		}
	}

	e.subMu.Lock()
	subs := make([]*subscriber, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.subMu.Unlock()

	for _, s := range subs {
		s.send(*up)
	}
}

// Subscribe returns a channel receiving the session's updates in arrival
// order. A subscriber that stops reading stalls the session, so consumers
// must drain the channel or call the returned cancel func. The channel is
// closed once the session ends: the agent exits, the session is closed or
// deleted, or the agent fails to start.
func (m *Manager) Subscribe(id string) (<-chan provider.Update, func(), error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	s := &subscriber{ch: make(chan provider.Update, subscriberBuffer), done: make(chan struct{})}

	e.subMu.Lock()
	if e.ended {
		e.subMu.Unlock()
		s.close()
		return s.ch, func() {}, nil
	}
	key := e.nextSub
	e.nextSub++
	e.subs[key] = s
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		delete(e.subs, key)
		e.subMu.Unlock()
		s.close()
	}
	return s.ch, cancel, nil
}

// Prompt sends text to the agent and waits for the turn to end, returning
// the stop reason. Every update of the turn has been published by the time
// Prompt returns, followed by a turn_complete update.
func (m *Manager) Prompt(ctx context.Context, id, text string) (string, error) {
	e, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	e.turn.Lock()
	defer e.turn.Unlock()

	m.mu.RLock()
	state, conn, agentID := e.record.State, e.conn, e.record.AgentSessionID
	m.mu.RUnlock()
	if state != StateActive || conn == nil {
		return "", errs.Validation("prompt", "session %s is %s", id, state)
	}

	var res acp.PromptResult
	err = conn.Call(ctx, acp.MethodSessionPrompt, acp.PromptParams{
		SessionID: agentID,
		Prompt:    []acp.ContentBlock{acp.TextBlock(text)},
	}, &res)
	if err != nil {
		m.publish(e, e.norm.Error(err.Error()))
		return "", fmt.Errorf("prompt session %s: %w", id, err)
	}
	m.publish(e, e.norm.TurnComplete(res.StopReason))
	return res.StopReason, nil
}

// Cancel asks the agent to stop the current turn and marks the session
// cancelled.
func (m *Manager) Cancel(_ context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	err = e.record.transition(StateCancelled)
	conn, agentID := e.conn, e.record.AgentSessionID
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if conn == nil {
		// No agent will ever publish for this session.
		m.endSubscriptions(e)
		return nil
	}
	if err := conn.Notify(acp.MethodSessionCancel, acp.CancelParams{SessionID: agentID}); err != nil {
		m.logger.Warn("send session/cancel", "session_id", id, "error", err)
	}
	return nil
}

// Close kills the session's process. The session ends completed, or failed
// if the agent had already exited with an error.
func (m *Manager) Close(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	m.mu.RLock()
	proc := e.proc
	m.mu.RUnlock()

	next := StateCompleted
	var exitErr error
	if proc != nil && proc.Exited() {
		if exitErr = proc.Wait(); exitErr != nil {
			next = StateFailed
		}
	}
	if !m.state(e).Terminal() {
		if err := m.setState(e, next); err == nil && exitErr != nil {
			m.publish(e, e.norm.Error(exitErr.Error()))
		}
	}

	if proc != nil {
		proc.Kill()
	} else {
		m.endSubscriptions(e)
	}
	m.logger.Debug("session closed", "session_id", id, "state", m.state(e))
	return nil
}

// Shutdown kills every attached process. Records stay registered.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, e := range m.sessions {
		if e.proc != nil || e.starting {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Close(id); err != nil {
			m.logger.Warn("close session", "session_id", id, "error", err)
		}
	}
}
