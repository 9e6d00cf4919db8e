// Package actuator talks to the network-attached door controller.  The
// protocol is one command per TCP connection: write the command string, read
// the reply, and succeed only if the reply echoes the command exactly.
package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

var (
	ErrConnectionRefused  = errors.New("actuator refused connection")
	ErrTimeout            = errors.New("actuator timed out")
	ErrUnexpectedResponse = errors.New("actuator returned unexpected response")
	ErrUnknownCommand     = errors.New("unknown actuator command")
)

// Command is a controller instruction.  The string value is the wire form.
type Command string

const (
	Open    Command = "open"
	Enable  Command = "enable_door"
	Disable Command = "disable_door"
)

// ParseCommand accepts the wire form or the short names open/enable/disable.
func ParseCommand(s string) (Command, error) {
	switch s {
	case "open":
		return Open, nil
	case "enable", string(Enable):
		return Enable, nil
	case "disable", string(Disable):
		return Disable, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// maxResponse matches the controller's single 1 KiB reply buffer.
const maxResponse = 1024

type Config struct {
	Addr    string
	Timeout time.Duration
	// Debug skips all network I/O and reports success.
	Debug bool
}

// Observer is told the result of every Send.  err is nil on success.
type Observer func(cmd Command, err error)

type Client struct {
	addr     string
	timeout  time.Duration
	debug    bool
	logger   *log.Logger
	dialer   net.Dialer
	observer Observer
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		addr:    cfg.Addr,
		timeout: timeout,
		debug:   cfg.Debug,
		logger:  logger,
		dialer:  net.Dialer{Timeout: timeout},
	}
}

// Observe registers fn to receive every send result.  Not safe to call
// concurrently with Send.
func (c *Client) Observe(fn Observer) { c.observer = fn }

func (c *Client) Debug() bool { return c.debug }

// Send performs one request/acknowledgment exchange.  It never retries; the
// whole exchange is bounded by the configured timeout or ctx, whichever ends
// first.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	err := c.send(ctx, cmd)
	if err != nil {
		c.logger.Error("actuator command failed", "command", cmd, "addr", c.addr, "err", err)
	} else {
		c.logger.Info("actuator command acknowledged", "command", cmd, "debug", c.debug)
	}
	if c.observer != nil {
		c.observer(cmd, err)
	}
	return err
}

func (c *Client) send(ctx context.Context, cmd Command) error {
	if c.debug {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return classify("dial", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return classify("write", err)
	}

	resp, err := readReply(conn, len(cmd))
	if err != nil {
		return classify("read", err)
	}
	if !bytes.Equal(resp, []byte(cmd)) {
		return fmt.Errorf("%w: sent %q, got %q", ErrUnexpectedResponse, cmd, resp)
	}
	return nil
}

// readReply reads until at least want bytes arrived, the peer closed, or the
// buffer is full.  An early close with a short reply is returned as-is so the
// caller reports it as a mismatch.
func readReply(r io.Reader, want int) ([]byte, error) {
	buf := make([]byte, maxResponse)
	n := 0
	for n < want && n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return buf[:n], nil
}

func classify(op string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %s: %v", ErrConnectionRefused, op, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("actuator %s: %w", op, err)
}
