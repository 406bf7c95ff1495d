// Package process supervises the reader executable when the monitor starts it
// itself.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type Process struct {
	cmd       *exec.Cmd
	log       *slog.Logger
	done      chan struct{}
	forwarded chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches path with args. Stderr lines are forwarded to log.
func Start(ctx context.Context, log *slog.Logger, path string, args ...string) (*Process, error) {
	if log == nil {
		log = slog.Default()
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(unix.SIGTERM) }
	cmd.WaitDelay = 2 * time.Second
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	p := &Process{
		cmd:       cmd,
		log:       log.With("pid", cmd.Process.Pid),
		done:      make(chan struct{}),
		forwarded: make(chan struct{}),
	}
	p.log.Info("reader started", "path", path)
	go p.forward(stderr)
	go p.wait()
	return p, nil
}

func (p *Process) forward(r io.Reader) {
	defer close(p.forwarded)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.log.Info("reader", "stderr", sc.Text())
	}
	_, _ = io.Copy(io.Discard, r)
}

func (p *Process) wait() {
	// Wait closes the pipe, drain it first
	<-p.forwarded
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
	if err != nil {
		p.log.Warn("reader exited", "err", err)
	} else {
		p.log.Info("reader exited")
	}
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop sends SIGTERM and kills the process if it is still alive after grace.
func (p *Process) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		p.log.Warn("sigterm failed", "err", err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	p.log.Warn("reader ignored SIGTERM, killing", "grace", grace)
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill reader: %w", err)
	}
	<-p.done
	return nil
}
