// Package supervisor owns the lifecycle of one externally spawned service
// process: start, readiness detection over its output, and graceful stop.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrStartupTimeout    = errors.New("service did not report readiness before the startup timeout")
	ErrExitedBeforeReady = errors.New("service exited before reporting readiness")
	ErrAlreadyRunning    = errors.New("supervisor already holds a running service")
)

// killWait bounds how long we wait for the exit of a SIGKILLed process.
const killWait = 5 * time.Second

// maxLineBytes is the longest line relayed in one piece.
const maxLineBytes = 1024 * 1024

// SpawnError is returned when the OS process could not be created.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ReadyFunc decides whether an output line signals readiness.
type ReadyFunc func(line string) bool

// MarkerPredicate returns a ReadyFunc that matches any line containing one
// of the markers.
func MarkerPredicate(markers ...string) ReadyFunc {
	return func(line string) bool {
		for _, m := range markers {
			if m != "" && strings.Contains(line, m) {
				return true
			}
		}
		return false
	}
}

// Spec describes the process to start.
type Spec struct {
	Name           string
	Command        string
	Args           []string
	Dir            string
	Env            []string // Full child environment, nil inherits ours
	Ready          ReadyFunc
	StartupTimeout time.Duration
}

// Handle references one spawned process. The zero value is a handle that
// was never started.
type Handle struct {
	name string

	mu      sync.Mutex
	state   State
	process *os.Process
	exited  chan struct{}
	exitErr error

	signals atomic.Int32 // termination signals delivered, for tests
	killed  atomic.Bool
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PID returns the OS process id, or 0 if the process was never spawned.
func (h *Handle) PID() int {
	if p := h.proc(); p != nil {
		return p.Pid
	}
	return 0
}

func (h *Handle) proc() *os.Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.process
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.exited
}

// Killed reports whether the process had to be SIGKILLed.
func (h *Handle) Killed() bool {
	return h.killed.Load()
}

// ExitErr returns the error from waiting on the process, valid after Done.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) transition(from []State, to State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range from {
		if h.state == f {
			h.state = to
			return true
		}
	}
	return false
}

// fail marks a handle whose process never came to exist.
func (h *Handle) fail() {
	h.mu.Lock()
	h.state = StateFailed
	h.mu.Unlock()
	close(h.exited)
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

type Config struct {
	Log    log.Logger
	Output io.Writer // Receives every line the child writes
}

// Supervisor holds at most one live Handle: the service slot is never shared.
type Supervisor struct {
	log log.Logger
	out io.Writer

	mu      sync.Mutex
	current *Handle
}

func New(cfg Config) *Supervisor {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Supervisor{
		log: cfg.Log,
		out: &lockedWriter{w: cfg.Output},
	}
}

// Current returns the handle held by the supervisor, if any.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start spawns the process and blocks until spec.Ready matches an output
// line, the startup timeout elapses, the process exits, or ctx is done.
// On any failure the process is killed and the handle ends in StateFailed.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Ready == nil {
		return nil, errors.New("readiness predicate is required")
	}
	if spec.Name == "" {
		spec.Name = spec.Command
	}

	s.mu.Lock()
	if s.current != nil && s.current.State().Alive() {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	h := &Handle{name: spec.Name, state: StateStarting, exited: make(chan struct{})}
	s.current = h
	s.mu.Unlock()

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	// Own the pipes so Wait does not close the read ends under the relays.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		h.fail()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		h.fail()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	s.log.Info("Starting service", "name", spec.Name, "command", spec.Command, "args", spec.Args, "dir", spec.Dir)
	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		h.fail()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	h.mu.Lock()
	h.process = cmd.Process
	stopped := h.state != StateStarting
	h.mu.Unlock()

	ready := make(chan struct{})
	var readyOnce sync.Once
	onLine := func(line string) {
		if spec.Ready(stripansi.Strip(line)) {
			readyOnce.Do(func() { close(ready) })
		}
	}
	go s.relay(spec.Name, "stdout", stdout, onLine)
	go s.relay(spec.Name, "stderr", stderr, onLine)

	if stopped {
		// Stop ran before the process existed
		go func() { _ = cmd.Wait(); close(h.exited) }()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("service %s stopped during startup", spec.Name)
	}

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.exited)
		s.log.Debug("Service exited", "name", spec.Name, "pid", cmd.Process.Pid, "err", err)
	}()

	timer := time.NewTimer(spec.StartupTimeout)
	defer timer.Stop()

	var startErr error
	select {
	case <-ready:
		if h.transition([]State{StateStarting}, StateReady) {
			s.log.Info("Service ready", "name", spec.Name, "pid", cmd.Process.Pid)
			return h, nil
		}
		// a concurrent Stop won the race
		return nil, fmt.Errorf("service %s stopped during startup", spec.Name)
	case <-h.exited:
		startErr = fmt.Errorf("%w: %v", ErrExitedBeforeReady, h.ExitErr())
	case <-timer.C:
		startErr = fmt.Errorf("%w (%s)", ErrStartupTimeout, spec.StartupTimeout)
	case <-ctx.Done():
		startErr = context.Cause(ctx)
	}

	if h.transition([]State{StateStarting}, StateFailed) {
		s.kill(h)
	}
	s.log.Warn("Service failed to start", "name", spec.Name, "err", startErr)
	return nil, startErr
}

// Stop asks the process to terminate with SIGTERM and waits up to grace
// for it to exit, escalating to SIGKILL afterwards. Stop is a no-op for
// handles that are nil, never started, already stopped or failed.
func (s *Supervisor) Stop(ctx context.Context, h *Handle, grace time.Duration) error {
	if h == nil {
		return nil
	}
	defer s.release(h)

	if !h.transition([]State{StateStarting, StateReady}, StateStopping) {
		if h.State() == StateStopping {
			// someone else is stopping it, wait for the outcome
			select {
			case <-h.exited:
			case <-ctx.Done():
			}
		}
		return nil
	}

	s.log.Info("Stopping service", "name", h.name, "pid", h.PID(), "grace", grace)
	proc := h.proc()
	if proc == nil {
		h.setState(StateStopped)
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			s.log.Warn("Failed to signal service", "name", h.name, "err", err)
		}
	} else {
		h.signals.Add(1)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.exited:
	case <-timer.C:
		s.log.Warn("Service did not exit within grace period, killing", "name", h.name, "grace", grace)
		s.kill(h)
	case <-ctx.Done():
		s.kill(h)
	}

	h.setState(StateStopped)
	s.log.Info("Service stopped", "name", h.name)
	return nil
}

// StopAll releases whatever handle the supervisor currently holds.
func (s *Supervisor) StopAll(ctx context.Context, grace time.Duration) error {
	return s.Stop(ctx, s.Current(), grace)
}

func (s *Supervisor) release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == h {
		s.current = nil
	}
}

func (s *Supervisor) kill(h *Handle) {
	proc := h.proc()
	if proc == nil {
		return
	}
	h.killed.Store(true)
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warn("Failed to kill service", "name", h.name, "err", err)
	}
	select {
	case <-h.exited:
	case <-time.After(killWait):
		s.log.Error("Service did not exit after SIGKILL", "name", h.name, "pid", h.PID())
	}
}

// relay forwards r line by line until EOF. Lines longer than maxLineBytes
// are forwarded in pieces so the pipe is always drained.
func (s *Supervisor) relay(name, stream string, r io.ReadCloser, onLine func(string)) {
	defer r.Close()
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	emit := func() {
		text := string(line)
		line = line[:0]
		fmt.Fprintf(s.out, "%s %s: %s\n", name, stream, text)
		onLine(text)
	}
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				emit()
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Debug("Output relay stopped", "name", name, "stream", stream, "err", err)
			}
			return
		}
		line = append(line, chunk...)
		if isPrefix && len(line) < maxLineBytes {
			continue
		}
		emit()
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
