// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/ai-run/helper/subproc"
	"github.com/hashicorp/ai-run/helper/users"
	"github.com/hashicorp/ai-run/lib/netbridge"
	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/policy"
	"github.com/hashicorp/ai-run/registry"
	hclog "github.com/hashicorp/go-hclog"
)

// ErrPrivilege is returned when the controller lacks the capabilities to
// create namespaces, links and packet filters.
var ErrPrivilege = platform.ErrPrivilege

// Orchestrator runs sandbox sessions: it starts the confined process, builds
// the host half of the network bridge, records the session and cleans up
// once the confined command exits.
type Orchestrator struct {
	logger   hclog.Logger
	config   *Config
	platform *platform.Platform
	registry registry.Registry
	launcher Launcher
	invoker  func() (*users.Invoker, error)
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLauncher replaces ExecLauncher.
func WithLauncher(l Launcher) OrchestratorOption {
	return func(o *Orchestrator) { o.launcher = l }
}

// WithInvoker replaces users.RealUser as the source of the invoking user.
func WithInvoker(fn func() (*users.Invoker, error)) OrchestratorOption {
	return func(o *Orchestrator) { o.invoker = fn }
}

// NewOrchestrator returns an Orchestrator. A nil registry records nothing.
func NewOrchestrator(logger hclog.Logger, config *Config, p *platform.Platform, reg registry.Registry, opts ...OrchestratorOption) *Orchestrator {
	if reg == nil {
		reg = registry.Noop{}
	}
	o := &Orchestrator{
		logger:   logger.Named("sandbox"),
		config:   DefaultConfig().Merge(config),
		platform: p,
		registry: reg,
		launcher: ExecLauncher,
		invoker:  users.RealUser,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// session is the controller state of one run.
type session struct {
	child   Child
	rv      *Rendezvous
	bridge  *netbridge.Builder
	invoker *users.Invoker

	teardownOnce sync.Once
	reapOnce     sync.Once
	code         int
	waitErr      error
}

// Run executes command (the configured shell when empty) inside a new
// sandbox governed by p and returns its exit status. Every fatal setup error
// is returned together with status 1.
func (o *Orchestrator) Run(ctx context.Context, p *policy.Policy, command []string) (int, error) {
	if err := o.config.Validate(); err != nil {
		return subproc.ExitFailure, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := o.platform.Privileges.Check(); err != nil {
		return subproc.ExitFailure, err
	}

	invoker, err := o.invoker()
	if err != nil {
		return subproc.ExitFailure, err
	}

	s, err := o.start(invoker)
	if err != nil {
		return subproc.ExitFailure, err
	}
	defer s.rv.Close()

	logger := o.logger.With("pid", s.child.Pid())

	// the child dies with the context
	stop := context.AfterFunc(ctx, func() {
		logger.Warn("context canceled, killing confined process")
		_ = s.child.Kill()
	})
	defer stop()

	boot := &Bootstrap{
		Policy:   p.Definition(),
		Config:   *o.config,
		User:     invoker.Name,
		Home:     invoker.Home,
		Command:  command,
		LogLevel: o.config.LogLevel,
	}
	if err := s.rv.Send(Message{Kind: KindBootstrap, Bootstrap: boot}); err != nil {
		return o.fail(s, err)
	}

	if _, err := s.rv.Await(KindNamespacesReady, o.config.NamespaceTimeout); err != nil {
		return o.fail(s, fmt.Errorf("confined process did not create its namespaces: %w", err))
	}
	logger.Debug("confined process namespaces ready")

	// Teardown runs on every path once the bridge build was attempted.
	defer o.teardown(s)

	link, err := s.bridge.SetupHost(s.child.Pid())
	if err != nil {
		_ = s.rv.Send(Message{Kind: KindAbort})
		return o.fail(s, fmt.Errorf("failed to build network bridge: %w", err))
	}

	o.register(s, p)
	defer o.unregister(s)

	if err := s.rv.Send(Message{Kind: KindNetworkReady}); err != nil {
		return o.fail(s, err)
	}
	logger.Info("sandbox started", "link", link.HostIf, "policy", p.Source())

	// The confined command owns the terminal; keyboard signals go to it.
	signal.Ignore(syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Reset(syscall.SIGINT, syscall.SIGQUIT)

	monitorDone := o.monitor(logger, s)
	code, waitErr := o.reap(s)

	// the exited child no longer holds its write end, so the monitor drains
	// any failure report and then sees EOF
	<-monitorDone

	if waitErr != nil {
		return subproc.ExitFailure, fmt.Errorf("failed waiting for confined process: %w", waitErr)
	}
	logger.Info("sandbox exited", "exit_code", code)
	return code, nil
}

// start creates the control pipes and launches the confined process.
func (o *Orchestrator) start(invoker *users.Invoker) (*session, error) {
	// toChild carries controller messages, fromChild the replies
	childIn, toChild, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create control pipe: %w", err)
	}
	fromChild, childOut, err := os.Pipe()
	if err != nil {
		_ = childIn.Close()
		_ = toChild.Close()
		return nil, fmt.Errorf("failed to create control pipe: %w", err)
	}

	child, err := o.launcher(childIn, childOut)

	// the child holds its own copies now
	_ = childIn.Close()
	_ = childOut.Close()

	if err != nil {
		_ = toChild.Close()
		_ = fromChild.Close()
		return nil, err
	}

	return &session{
		child:   child,
		rv:      NewRendezvous(child.Pid(), fromChild, toChild),
		bridge:  netbridge.NewBuilder(o.logger, o.config.Bridge(), o.platform),
		invoker: invoker,
	}, nil
}

// fail kills and reaps the child after a fatal setup error.
func (o *Orchestrator) fail(s *session, err error) (int, error) {
	o.logger.Error("sandbox setup failed", "pid", s.child.Pid(), "error", err)
	if kerr := s.child.Kill(); kerr != nil {
		o.logger.Warn("failed to kill confined process", "pid", s.child.Pid(), "error", kerr)
	}
	_, _ = o.reap(s)
	return subproc.ExitFailure, err
}

// reap waits for the child exactly once.
func (o *Orchestrator) reap(s *session) (int, error) {
	s.reapOnce.Do(func() {
		s.code, s.waitErr = s.child.Wait()
	})
	return s.code, s.waitErr
}

// monitor logs a failure the confined process reports after the network is
// ready. The returned channel is closed when the control channel closes.
func (o *Orchestrator) monitor(logger hclog.Logger, s *session) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m, err := s.rv.Receive(0)
		switch {
		case err != nil:
			// handoff closes the control channel
			if !errors.Is(err, ErrAborted) {
				logger.Trace("control channel closed", "error", err)
			}
		case m.Kind == KindFailed:
			logger.Error("confined process failed before running the command", "error", m.Error)
		default:
			logger.Warn("unexpected control message", "kind", m.Kind)
		}
	}()
	return done
}

func (o *Orchestrator) teardown(s *session) {
	s.teardownOnce.Do(func() {
		if err := s.bridge.Teardown(); err != nil {
			o.logger.Warn("failed to tear down network bridge", "error", err)
		}
	})
}

func (o *Orchestrator) register(s *session, p *policy.Policy) {
	cwd, _ := os.Getwd()
	_, err := o.registry.Register(registry.Session{
		PID:     s.child.Pid(),
		User:    s.invoker.Name,
		Policy:  p.Source(),
		Cwd:     cwd,
		Started: time.Now().UTC(),
		Status:  registry.StatusRunning,
	})
	if err != nil {
		o.logger.Warn("failed to register session", "error", err)
	}
}

func (o *Orchestrator) unregister(s *session) {
	if err := o.registry.Unregister(s.child.Pid()); err != nil {
		o.logger.Warn("failed to unregister session", "error", err)
	}
}
