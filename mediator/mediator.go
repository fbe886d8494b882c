// Package mediator owns the lifetime of one ceremony relay: it binds the port, serves the relay
// API, advertises it on the local network and, on stop, tears all of that down and forgets
// every session.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/vultisig/vultisig-mediator/config"
	"github.com/vultisig/vultisig-mediator/relay"
	"github.com/vultisig/vultisig-mediator/server"
)

// Advertiser publishes the relay so peers can find it. discovery.Advertiser implements it.
type Advertiser interface {
	Advertise(name string, port int) error
	Shutdown()
}

type Mediator struct {
	cfg        *config.Config
	stores     *relay.Stores
	advertiser Advertiser
	logger     *log.Logger

	mu          sync.Mutex
	server      *server.Server
	ln          net.Listener
	port        int
	serviceName string
}

// New returns a stopped mediator. logger may be nil.
func New(cfg *config.Config, stores *relay.Stores, advertiser Advertiser, logger *log.Logger) *Mediator {
	if logger == nil {
		logger = log.New("mediator")
	}
	return &Mediator{
		cfg:        cfg,
		stores:     stores,
		advertiser: advertiser,
		logger:     logger,
	}
}

// Start serves the relay and advertises it as serviceName. Starting again under the running
// name does nothing; a different name stops the running instance first. Failing to bind the
// port or to advertise leaves the mediator stopped.
func (m *Mediator) Start(serviceName string) error {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		return errors.New("service name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		if m.serviceName == serviceName {
			m.logger.Debugf("mediator %s is already running", serviceName)
			return nil
		}
		if err := m.stop(); err != nil {
			return fmt.Errorf("fail to stop mediator %s, err: %w", m.serviceName, err)
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", m.cfg.Port))
	if err != nil {
		return fmt.Errorf("fail to listen on port %d, err: %w", m.cfg.Port, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := m.advertiser.Advertise(serviceName, port); err != nil {
		_ = ln.Close()
		return fmt.Errorf("fail to advertise %s, err: %w", serviceName, err)
	}

	s := server.NewServer(int64(port), m.cfg.BodyLimit, m.stores, m.logger)
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Errorf("mediator %s stopped serving, err: %s", serviceName, err)
		}
	}()

	m.server = s
	m.ln = ln
	m.port = port
	m.serviceName = serviceName
	m.logger.Infoj(log.JSON{"event": "mediator started", "service": serviceName, "port": port})
	return nil
}

// Stop unregisters the service, shuts the server down and clears every store. Stopping a
// stopped mediator only clears the stores.
func (m *Mediator) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop()
}

func (m *Mediator) stop() error {
	var errs []error
	if m.server != nil {
		m.advertiser.Shutdown()
		if err := m.server.StopServer(); err != nil {
			errs = append(errs, fmt.Errorf("fail to stop server, err: %w", err))
		}
		// Serve may not have taken over the listener yet.
		_ = m.ln.Close()
		m.logger.Infoj(log.JSON{"event": "mediator stopped", "service": m.serviceName})
		m.server = nil
		m.ln = nil
		m.port = 0
		m.serviceName = ""
	}
	if err := m.stores.Clear(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("fail to clear stores, err: %w", err))
	}
	return errors.Join(errs...)
}

func (m *Mediator) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server != nil
}

func (m *Mediator) ServiceName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serviceName
}

// Port is the bound port, 0 when stopped.
func (m *Mediator) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}
