package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/internal/clock"
	"github.com/geekeatingbugz/whatsapp-bot/internal/metrics"
	"github.com/geekeatingbugz/whatsapp-bot/session"
)

const (
	DefaultMaxRestarts    = 3
	DefaultRestartDelay   = 10 * time.Second
	DefaultDestroyTimeout = 10 * time.Second
)

// ErrRestartsExhausted is returned by Run when the session failed again after
// the last allowed restart.
var ErrRestartsExhausted = errors.New("session restarts exhausted")

type State int

const (
	StateStarting State = iota
	StateReady
	StateFaulted
	StateRestarting
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	case StateRestarting:
		return "restarting"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Transport session.Transport
	Handlers  session.Handlers

	// MaxRestarts is how many times a faulted session is restarted over the
	// whole process lifetime. The count never resets. Zero means
	// DefaultMaxRestarts; a negative value disables restarts.
	MaxRestarts    int
	RestartDelay   time.Duration
	DestroyTimeout time.Duration

	Sleep         clock.SleepFunc
	OnStateChange func(from, to State)
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

type Supervisor struct {
	transport      session.Transport
	handlers       session.Handlers
	maxRestarts    int
	restartDelay   time.Duration
	destroyTimeout time.Duration
	sleep          clock.SleepFunc
	onStateChange  func(from, to State)
	logger         *slog.Logger
	metrics        *metrics.Metrics

	faults chan error

	mu       sync.Mutex
	state    State
	restarts int
}

func New(opts Options) *Supervisor {
	s := &Supervisor{
		transport:      opts.Transport,
		handlers:       opts.Handlers,
		maxRestarts:    opts.MaxRestarts,
		restartDelay:   opts.RestartDelay,
		destroyTimeout: opts.DestroyTimeout,
		sleep:          clock.OrDefault(opts.Sleep),
		onStateChange:  opts.OnStateChange,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		faults:         make(chan error, 1),
		state:          StateStarting,
	}
	switch {
	case s.maxRestarts == 0:
		s.maxRestarts = DefaultMaxRestarts
	case s.maxRestarts < 0:
		s.maxRestarts = 0
	}
	if s.restartDelay <= 0 {
		s.restartDelay = DefaultRestartDelay
	}
	if s.destroyTimeout <= 0 {
		s.destroyTimeout = DefaultDestroyTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Healthy reports whether the session is up or on its way up.
func (s *Supervisor) Healthy() bool {
	switch s.State() {
	case StateStarting, StateReady:
		return true
	default:
		return false
	}
}

// Run keeps the session alive until ctx is done or restarts run out. A
// cancelled ctx destroys the session and returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.transport == nil {
		return fmt.Errorf("supervisor: transport is nil")
	}
	for {
		s.setState(StateStarting)
		var fault error
		if err := s.initialize(ctx); err != nil {
			if ctx.Err() != nil {
				return s.shutdown()
			}
			fault = fmt.Errorf("initialize session: %w", err)
		} else {
			select {
			case <-ctx.Done():
				return s.shutdown()
			case fault = <-s.faults:
			case err, ok := <-s.transport.Errors():
				if !ok {
					err = session.ErrClosed
				}
				fault = err
			}
		}

		s.setState(StateFaulted)
		s.logger.Error("session_fault", "error", errString(fault), "restarts", s.Restarts())

		attempt, ok := s.nextRestart()
		if !ok {
			s.logger.Error("session_restarts_exhausted", "max_restarts", s.maxRestarts)
			s.setState(StateShuttingDown)
			s.destroy()
			s.setState(StateStopped)
			return fmt.Errorf("%w: last fault: %v", ErrRestartsExhausted, fault)
		}
		s.metrics.ObserveRestart()
		s.setState(StateRestarting)
		s.logger.Warn("session_restart_scheduled", "attempt", attempt, "delay", s.restartDelay.String())

		if err := s.sleep(ctx, s.restartDelay); err != nil {
			return s.shutdown()
		}
		s.destroy()
	}
}

func (s *Supervisor) nextRestart() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restarts >= s.maxRestarts {
		return s.restarts, false
	}
	s.restarts++
	return s.restarts, true
}

func (s *Supervisor) initialize(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panicked: %v", r)
		}
	}()
	// Drop a fault left over from the previous session.
	select {
	case <-s.faults:
	default:
	}
	return s.transport.Initialize(ctx, s.wrapHandlers())
}

func (s *Supervisor) shutdown() error {
	s.setState(StateShuttingDown)
	s.logger.Info("session_shutdown")
	s.destroy()
	s.setState(StateStopped)
	return nil
}

func (s *Supervisor) destroy() {
	ctx, cancel := context.WithTimeout(context.Background(), s.destroyTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("session_destroy_panic", "panic", fmt.Sprint(r))
		}
	}()
	if err := s.transport.Destroy(ctx); err != nil {
		s.logger.Warn("session_destroy_failed", "error", err.Error())
	}
}

// wrapHandlers turns a panic in any event handler into a session fault and
// moves the state to ready when the transport says so.
func (s *Supervisor) wrapHandlers() session.Handlers {
	h := s.handlers
	return session.Handlers{
		OnQRCode: func(code string) {
			defer s.recoverFault("qr")
			if h.OnQRCode != nil {
				h.OnQRCode(code)
			}
		},
		OnAuthenticated: func() {
			defer s.recoverFault("authenticated")
			if h.OnAuthenticated != nil {
				h.OnAuthenticated()
			}
		},
		OnReady: func() {
			defer s.recoverFault("ready")
			s.setState(StateReady)
			if h.OnReady != nil {
				h.OnReady()
			}
		},
		OnMessage: func(ctx context.Context, msg session.Message) {
			defer s.recoverFault("message")
			if h.OnMessage != nil {
				h.OnMessage(ctx, msg)
			}
		},
	}
}

func (s *Supervisor) recoverFault(event string) {
	r := recover()
	if r == nil {
		return
	}
	s.Fault(fmt.Errorf("%s handler panicked: %v", event, r))
}

// Fault reports a fatal error for the current session. Only the first fault
// per session is kept.
func (s *Supervisor) Fault(err error) {
	if err == nil {
		return
	}
	select {
	case s.faults <- err:
	default:
	}
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.metrics.SetSessionState(int(to))
	if from == to {
		return
	}
	s.logger.Debug("session_state", "from", from.String(), "to", to.String())
	if s.onStateChange != nil {
		s.onStateChange(from, to)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
