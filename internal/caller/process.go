package caller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/conductor/internal/acp"
	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/provider"
	"github.com/ShayCichocki/conductor/internal/session"
	"github.com/ShayCichocki/conductor/internal/workflow"
)

// AgentCommand is how to launch the ACP agent for one provider.
type AgentCommand struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`
}

// SessionCommand converts a to a session command with a sorted environment.
func (a AgentCommand) SessionCommand() session.Command {
	keys := make([]string, 0, len(a.Env))
	for k := range a.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+a.Env[k])
	}
	return session.Command{Path: a.Command, Args: a.Args, Env: env}
}

// ProcessCaller runs each step in a fresh ACP agent session.
type ProcessCaller struct {
	sessions  *session.Manager
	agents    map[string]AgentCommand
	fallback  string
	workDir   string
	workspace string
	logger    *slog.Logger
}

// ProcessOption configures a ProcessCaller.
type ProcessOption func(*ProcessCaller)

// WithWorkDir sets the cwd given to agent sessions.
func WithWorkDir(dir string) ProcessOption {
	return func(p *ProcessCaller) { p.workDir = dir }
}

// WithWorkspace sets the workspace id recorded on sessions.
func WithWorkspace(ws string) ProcessOption {
	return func(p *ProcessCaller) { p.workspace = ws }
}

// WithDefaultAdapter names the agent used by steps without an adapter.
func WithDefaultAdapter(name string) ProcessOption {
	return func(p *ProcessCaller) { p.fallback = name }
}

// WithProcessLogger sets the logger.
func WithProcessLogger(l *slog.Logger) ProcessOption {
	return func(p *ProcessCaller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProcessCaller creates a caller launching agents from the given
// provider-name to command table.
func NewProcessCaller(sessions *session.Manager, agents map[string]AgentCommand, opts ...ProcessOption) *ProcessCaller {
	p := &ProcessCaller{
		sessions: sessions,
		agents:   make(map[string]AgentCommand, len(agents)),
		fallback: string(provider.TypeClaude),
		logger:   slog.Default(),
	}
	for name, cmd := range agents {
		p.agents[strings.ToLower(name)] = cmd
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "process_caller")
	return p
}

// agentFor finds the command for an adapter by exact name, then by its
// canonical provider type.
func (p *ProcessCaller) agentFor(adapter string) (string, AgentCommand, error) {
	name := strings.ToLower(strings.TrimSpace(adapter))
	if name == "" {
		name = p.fallback
	}
	if cmd, ok := p.agents[name]; ok && cmd.Command != "" {
		return name, cmd, nil
	}
	if canonical := string(provider.BehaviorFor(name).Type); canonical != name {
		if cmd, ok := p.agents[canonical]; ok && cmd.Command != "" {
			return name, cmd, nil
		}
	}
	return "", AgentCommand{}, errs.NotFound("agent adapter", name)
}

// Call implements workflow.Caller. The session is closed before returning.
func (p *ProcessCaller) Call(ctx context.Context, inv workflow.Invocation) (workflow.StepOutcome, error) {
	adapter, agent, err := p.agentFor(inv.Adapter)
	if err != nil {
		return workflow.StepOutcome{}, err
	}

	opts := session.Options{
		ModeID: inv.ConfigString("mode"),
		Model:  inv.ConfigString("model"),
		Name:   inv.Workflow + "/" + inv.Step,
	}
	if inv.Specialist != nil {
		opts.Role = inv.Specialist.Role
	}
	rec, err := p.sessions.CreateSession("", p.workDir, p.workspace, adapter, opts)
	if err != nil {
		return workflow.StepOutcome{}, fmt.Errorf("create session: %w", err)
	}
	id := rec.SessionID
	defer func() {
		if err := p.sessions.Close(id); err != nil {
			p.logger.Warn("close session", "session_id", id, "error", err)
		}
	}()

	updates, unsubscribe, err := p.sessions.Subscribe(id)
	if err != nil {
		return workflow.StepOutcome{}, err
	}
	col := newCollector(updates)
	defer func() {
		unsubscribe()
		col.stop()
	}()

	if err := p.sessions.StartAgent(ctx, id, agent.SessionCommand()); err != nil {
		return workflow.StepOutcome{}, err
	}

	p.logger.Debug("prompting agent", "session_id", id, "step", inv.Step, "adapter", adapter)
	stopReason, err := p.sessions.Prompt(ctx, id, inv.FullPrompt())
	if err != nil {
		return workflow.StepOutcome{}, err
	}

	output, agentErr := col.wait()
	outcome := workflow.StepOutcome{Output: output}
	switch {
	case agentErr != "":
		outcome.Error = agentErr
	case stopReason != acp.StopEndTurn:
		outcome.Error = "agent stopped with " + stopReason
	default:
		outcome.Success = true
	}
	return outcome, nil
}

// collector accumulates agent text until the turn completes.
type collector struct {
	mu     sync.Mutex
	text   strings.Builder
	errMsg string
	turn   chan struct{}
	quit   chan struct{}
	once   sync.Once
}

func newCollector(updates <-chan provider.Update) *collector {
	c := &collector{turn: make(chan struct{}), quit: make(chan struct{})}
	go c.run(updates)
	return c
}

func (c *collector) run(updates <-chan provider.Update) {
	for {
		select {
		case up, ok := <-updates:
			if !ok {
				// The session ended without a turn_complete.
				c.once.Do(func() { close(c.turn) })
				return
			}
			c.mu.Lock()
			switch up.EventType {
			case provider.EventAgentMessage:
				if up.Message != nil {
					c.text.WriteString(up.Message.Content)
				}
			case provider.EventError:
				c.errMsg = up.Error
			case provider.EventTurnComplete:
				c.mu.Unlock()
				c.once.Do(func() { close(c.turn) })
				continue
			}
			c.mu.Unlock()
		case <-c.quit:
			return
		}
	}
}

// wait blocks until the turn_complete update has been consumed.
func (c *collector) wait() (string, string) {
	select {
	case <-c.turn:
	case <-c.quit:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String(), c.errMsg
}

func (c *collector) stop() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}
