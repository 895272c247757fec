package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/conductor/internal/caller"
	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/session"
	"github.com/ShayCichocki/conductor/internal/specialist"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/internal/tasks"
	"github.com/ShayCichocki/conductor/internal/trace"
	"github.com/ShayCichocki/conductor/internal/workflow"
)

// app holds the components a command needs. Commands open only what they use.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *state.DB
	closers []func() error
}

func newApp(c *config.Config, l *slog.Logger) *app {
	return &app{cfg: c, logger: l}
}

// Close releases everything the app opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) database() (*state.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	path := a.cfg.Database.Path
	if path == "" {
		path = state.ProjectDBPath(a.cfg.Workspace.Root)
	}
	db, err := state.OpenAndMigrate(path)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("database opened", "path", path)
	a.db = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) taskService() (*tasks.Service, error) {
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	return tasks.NewService(state.NewTaskStore(db), tasks.WithLogger(a.logger)), nil
}

// traceRecorder assembles the configured sinks behind an async queue so a
// slow sink never stalls a run.
func (a *app) traceRecorder() (trace.Recorder, error) {
	var sinks trace.Multi
	if a.cfg.Trace.SQLite {
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, state.NewTraceStore(db))
	}
	if a.cfg.Trace.NATSURL != "" {
		nr, err := trace.ConnectNATS(a.cfg.Trace.NATSURL, a.cfg.Trace.NATSSubject)
		if err != nil {
			a.logger.Warn("NATS trace sink disabled", "url", a.cfg.Trace.NATSURL, "error", err)
		} else {
			sinks = append(sinks, nr)
			a.closers = append(a.closers, nr.Close)
		}
	}
	if a.cfg.Trace.Log {
		sinks = append(sinks, trace.NewLogRecorder(a.logger, slog.LevelDebug))
	}
	if len(sinks) == 0 {
		return trace.Nop{}, nil
	}

	async := trace.NewAsync(sinks, a.cfg.Trace.Buffer, a.logger)
	a.closers = append(a.closers, async.Close)
	return async, nil
}

// specialists loads the configured directories on top of the builtins.
func (a *app) specialists() *specialist.Registry {
	reg := specialist.NewRegistry(a.logger)
	for _, dir := range a.cfg.Specialists.Dirs {
		n, err := reg.LoadDir(dir)
		if err != nil {
			a.logger.Warn("specialist directory skipped", "dir", dir, "error", err)
			continue
		}
		a.logger.Debug("specialists loaded", "dir", dir, "count", n)
	}
	return reg
}

func (a *app) sessionManager(rec trace.Recorder) *session.Manager {
	m := session.NewManager(session.WithRecorder(rec), session.WithLogger(a.logger))
	a.closers = append(a.closers, func() error {
		m.Shutdown()
		return nil
	})
	return m
}

func (a *app) agentCommands() map[string]caller.AgentCommand {
	out := make(map[string]caller.AgentCommand, len(a.cfg.Agents))
	for name, ac := range a.cfg.Agents {
		out[strings.ToLower(name)] = caller.AgentCommand{Command: ac.Command, Args: ac.Args, Env: ac.Environment()}
	}
	return out
}

// stepCaller routes API adapters to the Messages API and the rest to agent
// processes. The API caller is only built when an API key or Bedrock is
// configured.
func (a *app) stepCaller(sessions *session.Manager) (workflow.Caller, *caller.APICaller) {
	proc := caller.NewProcessCaller(sessions, a.agentCommands(),
		caller.WithWorkDir(a.cfg.Workspace.Root),
		caller.WithWorkspace(a.cfg.Workspace.ID),
		caller.WithDefaultAdapter(a.cfg.Workflow.DefaultAdapter),
		caller.WithProcessLogger(a.logger),
	)
	router := &caller.Router{Process: proc}

	key, _ := a.cfg.APIKey()
	if key == "" && !a.cfg.Anthropic.UseBedrock {
		return router, nil
	}
	api, err := caller.NewAPICaller(caller.APIConfig{
		APIKey:     key,
		Model:      a.cfg.Anthropic.Model,
		UseBedrock: a.cfg.Anthropic.UseBedrock,
		AWSRegion:  a.cfg.Anthropic.AWSRegion,
		AWSProfile: a.cfg.Anthropic.AWSProfile,
		MaxTokens:  a.cfg.Anthropic.MaxTokens,
	}, a.logger)
	if err != nil {
		a.logger.Warn("API caller disabled", "error", err)
		return router, nil
	}
	router.API = api
	return router, api
}

// watchSpecialists keeps reg in sync with its directories until ctx ends.
func (a *app) watchSpecialists(ctx context.Context, reg *specialist.Registry) {
	if !a.cfg.Specialists.Watch || len(reg.Dirs()) == 0 {
		return
	}
	go func() {
		if err := reg.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("specialist watch stopped", "error", err)
		}
	}()
}

func requireWorkspace() (string, error) {
	if cfg.Workspace.ID == "" {
		return "", fmt.Errorf("no workspace: pass --workspace or set workspace.id")
	}
	return cfg.Workspace.ID, nil
}
