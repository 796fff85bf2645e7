package cdp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
)

// Session is a control.Channel that attaches to the browser on first use
// and attaches again on the next call after the connection dropped. A call
// that hits a dead connection still fails with control.ErrUnavailable, so
// the attempt is retried under the channel budget.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *Client
}

// NewSession returns a session for cfg. It does not connect.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{cfg: cfg, logger: logger}
}

// Connect attaches now unless a live connection exists.
func (s *Session) Connect(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *Session) conn(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && !s.client.closed() {
		return s.client, nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
		s.logger.Warn("devtools session lost, reattaching", slog.String("endpoint", s.cfg.Endpoint))
	}
	c, err := Dial(ctx, s.cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

// Close detaches the current connection, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *Session) Navigate(ctx context.Context, destination string) (bool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	return c.Navigate(ctx, destination)
}

func (s *Session) Evaluate(ctx context.Context, script string) (string, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return "", err
	}
	return c.Evaluate(ctx, script)
}

func (s *Session) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) (bool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	return c.WaitForCondition(ctx, predicate, timeout)
}

func (s *Session) InjectKeystrokes(ctx context.Context, text string) (bool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	return c.InjectKeystrokes(ctx, text)
}

func (s *Session) ClickAt(ctx context.Context, x, y float64) (bool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	return c.ClickAt(ctx, x, y)
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return c.Screenshot(ctx)
}

var (
	_ control.Channel       = (*Session)(nil)
	_ control.Screenshotter = (*Session)(nil)
)
