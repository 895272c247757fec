package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/conductor/internal/errs"
)

// stderrTail bounds how much agent stderr is kept for error reports.
const stderrTail = 16 * 1024

// Process is a spawned agent subprocess with piped stdio.
type Process struct {
	cmd     *exec.Cmd
	command string

	stdin  io.WriteCloser
	stdout *os.File
	stderr *tailBuffer

	cancel  context.CancelFunc
	done    chan struct{}
	waitErr error
	once    sync.Once
}

// SpawnAgentProcess starts command with piped stdin, stdout and stderr. env
// entries ("KEY=value") are added to the current environment. A command that
// cannot be launched yields an errs Spawn error naming it.
func SpawnAgentProcess(ctx context.Context, command string, args []string, cwd string, env []string) (*Process, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errs.Spawn(command, errors.New("empty command"))
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	// Grandchildren holding stderr open must not block Wait forever.
	cmd.WaitDelay = 2 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, errs.Spawn(command, fmt.Errorf("create stdin pipe: %w", err))
	}

	// An os.Pipe lets the reader drain stdout to EOF independently of Wait.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, errs.Spawn(command, fmt.Errorf("create stdout pipe: %w", err))
	}
	cmd.Stdout = stdoutW

	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		stdoutR.Close()
		stdoutW.Close()
		return nil, errs.Spawn(command, err)
	}
	stdoutW.Close()

	p := &Process{
		cmd:     cmd,
		command: command,
		stdin:   stdin,
		stdout:  stdoutR,
		stderr:  stderr,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Command returns the command the process was started with.
func (p *Process) Command() string { return p.command }

// PID returns the operating system process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Stdin is the agent's standard input.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout is the agent's standard output.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the most recent stderr output.
func (p *Process) Stderr() string { return p.stderr.String() }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits. A failed exit includes the stderr tail.
func (p *Process) Wait() error {
	<-p.done
	if p.waitErr == nil {
		return nil
	}
	if tail := strings.TrimSpace(p.Stderr()); tail != "" {
		return fmt.Errorf("%s: %w: %s", p.command, p.waitErr, tail)
	}
	return fmt.Errorf("%s: %w", p.command, p.waitErr)
}

// Kill terminates the process, waits for it and releases its pipes. It is
// safe to call more than once.
func (p *Process) Kill() {
	p.once.Do(func() {
		p.stdin.Close()
		p.cancel()
		<-p.done
		p.stdout.Close()
	})
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, data...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append([]byte(nil), b.buf[over:]...)
	}
	return len(data), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
