// Package process runs external tools and supervises a maintenance run so
// that registered cleanup happens even when the operator interrupts it
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pysqlcipher/amalgam/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ErrInterrupted is returned by Run when a termination signal arrived
var ErrInterrupted = errors.New("interrupted")

// Manager handles process lifecycle and signals
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	sigChan          chan os.Signal
	mu               sync.Mutex
	running          bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		logger:  log,
		sigChan: make(chan os.Signal, 1),
	}
}

// RegisterShutdownHandler adds a handler run when a signal interrupts Run.
// Handlers run in reverse registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Run executes fn under signal supervision. On SIGINT, SIGTERM or SIGHUP
// the context passed to fn is cancelled, which kills any child started with
// exec.CommandContext. The shutdown handlers run once fn has returned, so
// they never race with work fn is still unwinding.
func (m *Manager) Run(parent context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("process manager already running")
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.shutdownHandlers = nil
		m.mu.Unlock()
	}()

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(m.sigChan)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	var received os.Signal
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case sig := <-m.sigChan:
			m.logger.Warn("Received signal", logger.WithField("signal", sig))
			received = sig
			cancel()
			return fmt.Errorf("%w by %v", ErrInterrupted, sig)
		}
	})

	err := g.Wait()
	if received != nil {
		m.handleShutdown()
	}
	return err
}

// Signal delivers sig as if the OS had sent it
func (m *Manager) Signal(sig os.Signal) {
	select {
	case m.sigChan <- sig:
	default:
	}
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.logger.Info("Cleaning up after interruption...")

	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}
