package compile

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Supervisor errors.
var (
	// ErrSupervisorShutdown is returned when starting a process after Shutdown.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrProcessLimit is returned when the concurrent process cap is reached.
	ErrProcessLimit = errors.New("render process limit reached")
)

// State represents the state of a render process.
type State int32

const (
	// StateRunning indicates the process is running.
	StateRunning State = iota
	// StateExited indicates the process exited on its own.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is one running render command. Its stdout and stderr are
// captured in memory, bounded by the supervisor's capture limit.
type Process struct {
	ID      string
	Name    string
	Cmd     *exec.Cmd
	Started time.Time

	stdout *boundedBuffer
	stderr *boundedBuffer

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 while running.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Stdout returns what the process wrote to stdout so far.
func (p *Process) Stdout() string {
	return p.stdout.String()
}

// Stderr returns what the process wrote to stderr so far.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Terminate sends SIGTERM to a running process.
func (p *Process) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

// Kill sends SIGKILL to a running process.
func (p *Process) Kill() error {
	return p.signal(syscall.SIGKILL)
}

func (p *Process) signal(sig syscall.Signal) error {
	if p.State() != StateRunning || p.Cmd.Process == nil {
		return nil
	}
	return p.Cmd.Process.Signal(sig)
}

// Stop terminates the process, escalating to SIGKILL after grace.
// It returns once the process has exited.
func (p *Process) Stop(grace time.Duration) {
	_ = p.Terminate()
	select {
	case <-p.done:
	case <-time.After(grace):
		_ = p.Kill()
		<-p.done
	}
}

func (p *Process) wait() {
	err := p.Cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	code, state := 0, StateExited
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				state = StateKilled
			}
		}
	}
	p.exitCode.Store(int32(code))
	p.state.Store(int32(state))
	close(p.done)
}

// Supervisor tracks render processes so they can be stopped together.
// It is safe for concurrent use.
type Supervisor struct {
	mu           sync.RWMutex
	processes    map[string]*Process
	closed       atomic.Bool
	maxProcesses int
	captureLimit int
	onExit       func(*Process)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses caps the number of concurrent processes. Zero means
// unlimited.
func WithMaxProcesses(n int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = n
	}
}

// DefaultCaptureLimit is the number of bytes kept per output stream.
const DefaultCaptureLimit = 64 << 10

// WithCaptureLimit bounds the bytes kept per output stream.
func WithCaptureLimit(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.captureLimit = n
		}
	}
}

// WithExitCallback registers fn to run after each process exits.
func WithExitCallback(fn func(*Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// NewSupervisor creates a supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes:    make(map[string]*Process),
		captureLimit: DefaultCaptureLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts cmd and tracks it until it exits. cmd's Stdout and Stderr
// must be unset; they are captured by the supervisor.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}

	proc := &Process{
		ID:     uuid.New().String(),
		Name:   name,
		Cmd:    cmd,
		stdout: &boundedBuffer{limit: s.captureLimit},
		stderr: &boundedBuffer{limit: s.captureLimit},
		done:   make(chan struct{}),
	}
	proc.exitCode.Store(-1)
	cmd.Stdout = proc.stdout
	cmd.Stderr = proc.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	proc.Started = time.Now()
	proc.state.Store(int32(StateRunning))
	s.processes[proc.ID] = proc

	go s.monitor(proc)
	return proc, nil
}

func (s *Supervisor) monitor(proc *Process) {
	proc.wait()

	if s.onExit != nil {
		func() {
			defer func() { _ = recover() }()
			s.onExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Count returns the number of running processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// List returns the running processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p)
	}
	return out
}

// Shutdown refuses new processes and stops the running ones, sending
// SIGTERM first and SIGKILL to anything still alive after timeout.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			p.Stop(timeout)
		}(p)
	}
	wg.Wait()
}

// boundedBuffer keeps the last limit bytes written to it.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if len(p) > b.limit {
		p = p[len(p)-b.limit:]
	}
	if over := b.buf.Len() + len(p) - b.limit; over > 0 {
		b.buf.Next(over)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
