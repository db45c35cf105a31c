package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/ipc"
)

// ExecSpawner self-execs (or execs any binary) with a stdin control channel.
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string

	// Detached puts the child in its own session so it survives the parent.
	Detached bool
	// Replies pipes the child's stdout back as ipc messages.
	Replies bool
}

// Executable returns the binary path.
func (s *ExecSpawner) Executable() string {
	return s.Path
}

// Spawn starts the process.
func (s *ExecSpawner) Spawn(ctx context.Context) (Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Not CommandContext: the spawn deadline must not kill the child later.
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = nil
	if s.Detached {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Setsid: true, // New session: not killed with the parent's process group
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	var stdout io.ReadCloser
	if s.Replies {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start %s: %w", s.Path, err)
	}

	c := &execChild{
		cmd:   cmd,
		stdin: stdin,
		enc:   ipc.NewEncoder(stdin),
		msgs:  make(chan ipc.Message, 16),
		done:  make(chan struct{}),
	}
	go c.wait(stdout)
	return c, nil
}

type execChild struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *ipc.Encoder
	msgs  chan ipc.Message
	done  chan struct{}

	mu      sync.Mutex
	waitErr error
}

// wait drains stdout before Wait, which closes the pipe.
func (c *execChild) wait(stdout io.Reader) {
	if stdout != nil {
		ipc.Pump(stdout, c.msgs)
	} else {
		close(c.msgs)
	}
	err := c.cmd.Wait()
	c.mu.Lock()
	c.waitErr = err
	c.mu.Unlock()
	close(c.done)
}

func (c *execChild) PID() int { return c.cmd.Process.Pid }

func (c *execChild) Send(m ipc.Message) error {
	select {
	case <-c.done:
		return fmt.Errorf("process %d already exited", c.PID())
	default:
	}
	return c.enc.Send(m)
}

func (c *execChild) Messages() <-chan ipc.Message { return c.msgs }

func (c *execChild) Done() <-chan struct{} { return c.done }

func (c *execChild) Kill() error { return c.cmd.Process.Kill() }

// ExitErr returns the Wait error (e.g. "exit status 1") once Done is closed.
func (c *execChild) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitErr
}

var _ exitReporter = (*execChild)(nil)
