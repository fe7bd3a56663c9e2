// Package pty implements the PTY Session Manager: long-lived interactive
// command sessions that accept streamed input and expose bounded scrollback
// output.
//
// No pseudo-terminal allocation library is wired into this package — the
// reference example pack carries none (no creack/pty or equivalent anywhere
// across the teacher repo, the rest of the pack, or other_examples/). This
// is a genuine functional gap versus a real PTY: programs that detect a
// non-tty stdin (disabling line buffering, interactive prompts, color) will
// behave differently here than under a real terminal. Sessions are built on
// os/exec pipes instead, which is sufficient for the run-loop's shell and
// REPL use cases but not for full terminal emulation.
package pty

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const scrollbackCapacity = 1 << 20 // 1 MiB per session

// Status is the lifecycle state of a Session.
type Status int

const (
	StatusRunning Status = iota
	StatusExited
	StatusKilled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	case StatusKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Session is one long-lived interactive command.
type Session struct {
	ID         string
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	scrollback *ringBuffer
	status     Status
	exitErr    error
	done       chan struct{}
}

// Write sends data to the session's stdin.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return fmt.Errorf("pty: session %s is not running (status=%s)", s.ID, s.status)
	}
	_, err := s.stdin.Write(data)
	return err
}

// Scrollback returns a copy of the session's buffered output so far.
func (s *Session) Scrollback() []byte {
	return s.scrollback.Bytes()
}

// CurrentStatus returns the session's current lifecycle state.
func (s *Session) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Wait blocks until the session's process exits or ctx is canceled.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill terminates the underlying process.
func (s *Session) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return nil
	}
	s.status = StatusKilled
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Manager tracks a set of active interactive Sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager builds a Manager. timeout bounds how long a session may run
// before it is forcibly killed.
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		logger:   logger,
	}
}

// Start launches command/args in workDir as a new session and returns it.
func (m *Manager) Start(ctx context.Context, command string, args []string, workDir string) (*Session, error) {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout)

	cmd := exec.CommandContext(runCtx, command, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("pty: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("pty: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	session := &Session{
		ID:         uuid.New().String(),
		cmd:        cmd,
		stdin:      stdin,
		scrollback: newRingBuffer(scrollbackCapacity),
		status:     StatusRunning,
		done:       make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("pty: start: %w", err)
	}

	go session.pump(stdout)
	go session.awaitExit(cancel, m.logger)

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return session, nil
}

func (s *Session) pump(stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			_, _ = s.scrollback.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) awaitExit(cancel context.CancelFunc, logger *zap.Logger) {
	defer cancel()
	err := s.cmd.Wait()

	s.mu.Lock()
	if s.status == StatusRunning {
		s.status = StatusExited
	}
	s.exitErr = err
	s.mu.Unlock()

	if err != nil {
		logger.Debug("pty session exited with error", zap.String("session_id", s.ID), zap.Error(err))
	}
	close(s.done)
}

// Get looks up a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the IDs of all tracked sessions, running or finished.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close kills and forgets a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("pty: unknown session %s", id)
	}
	return session.Kill()
}
