package kvtab

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type clientState int

const (
	clientIdle clientState = iota
	clientStarted
	clientStopped
)

// Client is the process-wide driver handle some backends need (FoundationDB's
// network, for one). It is created once by the composition root, started before
// any connection is established, injected into every connection, and stopped at
// shutdown. A stopped client cannot be restarted.
type Client struct {
	name   string
	start  func() error
	stop   func() error
	logger *zap.Logger

	mu    sync.Mutex
	state clientState
}

type ClientOptions struct {
	// Start runs once on the first successful Start call.
	Start func() error
	// Stop runs on the Stop call that transitions a started client to stopped.
	Stop   func() error
	Logger *zap.Logger
}

func NewClient(name string, opt ClientOptions) *Client {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Client{
		name:   name,
		start:  opt.Start,
		stop:   opt.Stop,
		logger: opt.Logger.With(zap.String("client", name)),
	}
}

func (c *Client) Name() string {
	return c.name
}

// Start initializes the driver. Starting a started client is a no-op;
// starting a stopped one fails with ErrClientStopped.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case clientStarted:
		return nil
	case clientStopped:
		return fmt.Errorf("%s: start: %w", c.name, ErrClientStopped)
	}
	if c.start != nil {
		if err := c.start(); err != nil {
			return fmt.Errorf("%s: failed to start: %w", c.name, err)
		}
	}
	c.state = clientStarted
	c.logger.Debug("client started")
	return nil
}

// Stop releases the driver. It must be called exactly once, after Start.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case clientIdle:
		return fmt.Errorf("%s: stop: %w", c.name, ErrClientNotStarted)
	case clientStopped:
		return fmt.Errorf("%s: stop: %w", c.name, ErrClientStopped)
	}
	c.state = clientStopped
	if c.stop != nil {
		if err := c.stop(); err != nil {
			return fmt.Errorf("%s: failed to stop: %w", c.name, err)
		}
	}
	c.logger.Debug("client stopped")
	return nil
}

// Check returns nil if the client is started, and the reason it cannot be used otherwise.
func (c *Client) Check() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case clientIdle:
		return fmt.Errorf("%s: %w", c.name, ErrClientNotStarted)
	case clientStopped:
		return fmt.Errorf("%s: %w", c.name, ErrClientStopped)
	}
	return nil
}
