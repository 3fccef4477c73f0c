// Package ptyproc starts shell processes attached to a pseudo-terminal and
// exposes the master side as a non-blocking file descriptor.
//
// A Process is meant to be driven by a readiness reactor: the owner
// registers Fd with the reactor and calls Read until it reports no more
// data. Read never blocks.
package ptyproc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ErrSpawn wraps every failure to start a process.
var ErrSpawn = errors.New("spawn terminal process")

// ErrClosed is returned by I/O on a terminated process.
var ErrClosed = errors.New("terminal process closed")

// AllowedShells is the whitelist of shells that may be started.
var AllowedShells = []string{
	"/bin/bash",
	"/bin/sh",
	"/bin/zsh",
	"/usr/bin/bash",
	"/usr/bin/zsh",
	"/usr/bin/fish",
}

// ValidateShell checks whether shell is in AllowedShells.
func ValidateShell(shell string) error {
	for _, allowed := range AllowedShells {
		if shell == allowed {
			return nil
		}
	}
	return fmt.Errorf("shell %q is not allowed; permitted shells: %v", shell, AllowedShells)
}

const (
	defaultCols = 80
	defaultRows = 24

	// writeStall bounds how long Write waits for the terminal to drain.
	writeStall = 5 * time.Second
)

// Options describes the process to start.
type Options struct {
	Shell  string
	Args   []string
	Dir    string
	Locale string
	Env    []string
	Cols   uint16
	Rows   uint16
}

// Process is a running shell and the master side of its terminal.
type Process struct {
	cmd *exec.Cmd

	// mu guards the descriptor: I/O holds it shared, close holds it
	// exclusively so fd is never reused under a concurrent read.
	mu     sync.RWMutex
	master *os.File
	fd     int
	closed bool

	exited  chan struct{}
	waitErr error
}

// Spawn starts opts.Shell as an interactive login shell on a new terminal.
func Spawn(opts Options) (*Process, error) {
	if err := ValidateShell(opts.Shell); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	if opts.Cols == 0 {
		opts.Cols = defaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = defaultRows
	}

	args := opts.Args
	if args == nil {
		args = []string{"-l"}
	}
	cmd := exec.Command(opts.Shell, args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts)

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		master.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("%w: set non-blocking: %v", ErrSpawn, err)
	}

	p := &Process{
		cmd:    cmd,
		master: master,
		fd:     fd,
		exited: make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

func buildEnv(opts Options) []string {
	env := append(os.Environ(), opts.Env...)
	env = append(env,
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	if opts.Locale != "" {
		env = append(env, "LANG="+opts.Locale, "LC_ALL="+opts.Locale)
	}
	return env
}

func (p *Process) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

// Fd returns the master descriptor for readiness registration.
func (p *Process) Fd() int {
	return p.fd
}

// Pid returns the shell's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Alive reports whether the shell has not yet exited.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Done is closed once the shell has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}

// ExitErr returns the error from waiting on the shell, valid after Done.
func (p *Process) ExitErr() error {
	<-p.exited
	return p.waitErr
}

// Read reads whatever output is available without blocking. It returns
// (0, nil) when nothing is pending and io.EOF once the terminal has hung up.
func (p *Process) Read(buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, io.EOF
	}

	for {
		n, err := unix.Read(p.fd, buf)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		case errors.Is(err, unix.EIO):
			// Linux reports a hung-up slave as EIO on the master.
			return 0, io.EOF
		default:
			return 0, err
		}
	}
}

// Write delivers data to the shell's input, waiting for the terminal to
// accept it when its input queue is full.
func (p *Process) Write(data []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	deadline := time.Now().Add(writeStall)
	for len(data) > 0 {
		n, err := unix.Write(p.fd, data)
		if n > 0 {
			data = data[n:]
		}
		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if time.Now().After(deadline) {
				return fmt.Errorf("write terminal: %w", os.ErrDeadlineExceeded)
			}
			fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
			if _, err := unix.Poll(fds, 100); err != nil && !errors.Is(err, unix.EINTR) {
				return fmt.Errorf("poll terminal: %w", err)
			}
		default:
			return fmt.Errorf("write terminal: %w", err)
		}
	}
	return nil
}

// Resize changes the terminal window size.
func (p *Process) Resize(cols, rows uint16) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	// pty.Setsize goes through os.File.Fd, which puts the descriptor back
	// into blocking mode. Use the cached fd directly.
	return unix.IoctlSetWinsize(p.fd, unix.TIOCSWINSZ, &unix.Winsize{Col: cols, Row: rows})
}

// Terminate hangs up the shell's process group and releases the terminal.
// With force set, a group that is still running after grace is killed.
// It is safe to call more than once.
func (p *Process) Terminate(force bool, grace time.Duration) error {
	pgid := p.cmd.Process.Pid
	if p.Alive() {
		// pty.Start puts the shell in its own session, so its pid is the group id.
		unix.Kill(-pgid, syscall.SIGHUP)
		unix.Kill(-pgid, syscall.SIGTERM)

		if force {
			select {
			case <-p.exited:
			case <-time.After(grace):
				unix.Kill(-pgid, syscall.SIGKILL)
				<-p.exited
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.master.Close()
}
