// Package process owns the lifecycle of the single external acquisition process.
package process

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/shaneisley/acqsched/pkg/config"
	"github.com/shaneisley/acqsched/pkg/logging"
)

// KillWait bounds how long a forced kill is waited on.
const KillWait = 2 * time.Second

// State is the lifecycle state of the acquisition process.
type State int

const (
	NotRunning State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "not_running"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Controller starts and stops the acquisition program. Start and Stop are
// meant to be called from a single goroutine; State and Pid may be read from
// anywhere.
type Controller struct {
	cfg      config.ProcessConfig
	finder   Finder
	launcher Launcher
	signaler Signaler
	logger   *logging.Logger

	mu     sync.Mutex
	handle *handle
}

type handle struct {
	proc     Proc
	pid      int
	done     chan struct{}
	err      error
	stopping atomic.Bool
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Option configures a Controller.
type Option func(*Controller)

func WithFinder(f Finder) Option { return func(c *Controller) { c.finder = f } }
func WithLauncher(l Launcher) Option { return func(c *Controller) { c.launcher = l } }
func WithSignaler(s Signaler) Option { return func(c *Controller) { c.signaler = s } }
func WithLogger(l *logging.Logger) Option { return func(c *Controller) { c.logger = l } }

// NewController creates a controller for the program described by cfg.
func NewController(cfg config.ProcessConfig, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		finder:   NewProcFinder(),
		launcher: &ExecLauncher{},
		signaler: UnixSignaler{},
		logger:   logging.Discard(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	switch {
	case h == nil || h.exited():
		return NotRunning
	case h.stopping.Load():
		return Stopping
	default:
		return Running
	}
}

// Pid returns the pid of the running acquisition process, or 0.
func (c *Controller) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle.exited() {
		return 0
	}
	return c.handle.pid
}

// Start kills every process matching the configured name, waits the settle
// delay and launches a fresh instance. Failing to kill a stray is logged and
// does not prevent the launch.
func (c *Controller) Start(ctx context.Context) error {
	c.killStrays()

	if c.cfg.SettleDelay > 0 {
		timer := time.NewTimer(c.cfg.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	proc, err := c.launcher.Launch(c.cfg.Executable, c.cfg.Args)
	if err != nil {
		return err
	}

	h := &handle{proc: proc, pid: proc.Pid(), done: make(chan struct{})}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	go c.reap(h)

	c.logger.Info("acquisition process started",
		"pid", h.pid,
		"executable", c.cfg.Executable)
	return nil
}

// Stop interrupts the acquisition process and waits up to the stop timeout
// for it to exit, then kills its process group. Stopping when nothing runs is
// a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h == nil {
		c.logger.Debug("no acquisition process to stop")
		return nil
	}
	if h.exited() {
		c.logger.Debug("acquisition process already stopped", "pid", h.pid)
		c.clear(h)
		return nil
	}

	h.stopping.Store(true)
	if err := c.signaler.Signal(h.pid, unix.SIGINT); err != nil && !isGone(err) {
		c.logger.LogError("interrupt", err, "pid", h.pid)
	}

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
		c.logger.Info("acquisition process stopped", "pid", h.pid)
		c.clear(h)
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	c.logger.Error("stop acquisition gracefully failed, killing process now", "pid", h.pid)
	c.kill(h.pid, true)

	select {
	case <-h.done:
		c.clear(h)
		return nil
	case <-time.After(KillWait):
		return fmt.Errorf("acquisition process %d still running after SIGKILL", h.pid)
	}
}

func (c *Controller) killStrays() {
	pids, err := c.finder.FindByName(c.cfg.Name)
	if err != nil {
		c.logger.LogError("find_processes", err, "name", c.cfg.Name)
	}

	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h != nil && !h.exited() {
		h.stopping.Store(true)
	}

	killed := make(map[int]bool, len(pids))
	for _, pid := range pids {
		if c.kill(pid, false) {
			killed[pid] = true
			c.logger.Debug("killed stray acquisition process", "pid", pid)
		}
	}

	// Our own child may not be visible under the configured name.
	if h != nil && !h.exited() {
		if !killed[h.pid] {
			c.kill(h.pid, true)
		}
		select {
		case <-h.done:
		case <-time.After(KillWait):
			c.logger.Error("previous acquisition process did not exit", "pid", h.pid)
		}
	}
	if h != nil {
		c.clear(h)
	}
}

// kill sends SIGKILL, to the process group first when group is set.
func (c *Controller) kill(pid int, group bool) bool {
	if group {
		if err := c.signaler.Signal(-pid, unix.SIGKILL); err == nil {
			return true
		}
	}
	err := c.signaler.Signal(pid, unix.SIGKILL)
	if err != nil && !isGone(err) {
		c.logger.LogError("kill", err, "pid", pid)
		return false
	}
	return true
}

func (c *Controller) reap(h *handle) {
	h.err = h.proc.Wait()
	if !h.stopping.Load() {
		args := []any{"pid", h.pid}
		if h.err != nil {
			args = append(args, "exit", h.err.Error())
		}
		c.logger.Warn("acquisition process exited unexpectedly", args...)
	}
	close(h.done)
}

func (c *Controller) clear(h *handle) {
	c.mu.Lock()
	if c.handle == h {
		c.handle = nil
	}
	c.mu.Unlock()
}
