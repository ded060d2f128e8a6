package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Proc is a launched process.
type Proc interface {
	Pid() int
	Wait() error
}

// Launcher starts the acquisition program.
type Launcher interface {
	Launch(executable string, args []string) (Proc, error)
}

// Signaler delivers signals to processes. A negative pid addresses a process group.
type Signaler interface {
	Signal(pid int, sig syscall.Signal) error
}

// ExecLauncher implements Launcher using os/exec. Output is forwarded to the
// daemon's own stdout and stderr unless overridden.
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Launch starts executable in its own process group so a forced stop can
// take down its children too.
func (l *ExecLauncher) Launch(executable string, args []string) (Proc, error) {
	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Stdout = l.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", executable, err)
	}
	return &execProc{cmd: cmd}, nil
}

type execProc struct {
	cmd *exec.Cmd
}

func (p *execProc) Pid() int { return p.cmd.Process.Pid }

func (p *execProc) Wait() error { return p.cmd.Wait() }

// UnixSignaler sends signals with kill(2).
type UnixSignaler struct{}

func (UnixSignaler) Signal(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

func isGone(err error) bool {
	return errors.Is(err, unix.ESRCH)
}
