// Package transport owns the TCP link to the sensor: dialing, the CoLa-A
// stream-enable handshake, and STX/ETX telegram framing. It does not
// retry; reconnect policy belongs to the acquisition loop.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Connection error kinds, wrapped into every failure so the acquisition
// loop can classify without inspecting net internals.
var (
	ErrUnreachable = errors.New("sensor unreachable")
	ErrTimeout     = errors.New("sensor timed out")
	ErrClosed      = errors.New("connection closed")
)

// CoLa-A frame delimiters.
const (
	stx = 0x02
	etx = 0x03
)

// streamEnable asks the sensor to start emitting LMDscandata telegrams
// continuously. Sent once per connection, immediately after dialing.
var streamEnable = []byte{stx, 's', 'E', 'N', ' ', 'L', 'M', 'D', 's', 'c', 'a', 'n', 'd', 'a', 't', 'a', ' ', '1', etx}

// Config holds the network parameters for one sensor link.
type Config struct {
	// Address is the sensor's host:port. The TiM561 factory default is
	// 192.168.0.1:2112.
	Address string

	// ConnectTimeout bounds the dial. Zero means 10s.
	ConnectTimeout time.Duration

	// ReadTimeout is the liveness deadline: the longest ReadTelegram waits
	// for one complete telegram before declaring the link dead. The sensor
	// scans at 15Hz, so several missed cycles fit well inside the 5s
	// default.
	ReadTimeout time.Duration

	// PollInterval is the socket deadline used to keep the blocking read
	// interruptible. Zero means 100ms.
	PollInterval time.Duration
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout == 0 {
		return 10 * time.Second
	}
	return c.ConnectTimeout
}

func (c Config) readTimeout() time.Duration {
	if c.ReadTimeout == 0 {
		return 5 * time.Second
	}
	return c.ReadTimeout
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval == 0 {
		return 100 * time.Millisecond
	}
	return c.PollInterval
}

// SensorLink is one live TCP connection to the sensor.
type SensorLink struct {
	cfg  Config
	conn net.Conn
	br   *bufio.Reader

	// Partial telegram carried across poll deadlines so a slow sender
	// never loses bytes to the interruptible-read loop.
	payload    []byte
	inTelegram bool
}

// Connect dials the sensor and enables the scan data stream. Failures wrap
// ErrUnreachable or ErrTimeout.
func Connect(ctx context.Context, cfg Config) (*SensorLink, error) {
	dialer := net.Dialer{Timeout: cfg.connectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, classifyDialError(cfg.Address, err)
	}

	l := &SensorLink{cfg: cfg, conn: conn, br: bufio.NewReader(conn)}
	conn.SetWriteDeadline(time.Now().Add(cfg.connectTimeout()))
	if _, err := conn.Write(streamEnable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable scan stream: %w: %v", ErrClosed, err)
	}
	conn.SetWriteDeadline(time.Time{})
	return l, nil
}

// ReadTelegram blocks until one complete STX..ETX telegram is available
// and returns its payload with the delimiters stripped. The socket read
// runs under short deadlines so ctx cancellation is observed within one
// poll interval even while no data arrives. Exceeding the liveness
// deadline returns ErrTimeout; a peer close returns ErrClosed.
func (l *SensorLink) ReadTelegram(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(l.cfg.readTimeout())

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no telegram within %s: %w", l.cfg.readTimeout(), ErrTimeout)
		}

		l.conn.SetReadDeadline(time.Now().Add(l.cfg.pollInterval()))
		b, err := l.br.ReadByte()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil, fmt.Errorf("sensor closed the connection: %w", ErrClosed)
			}
			return nil, fmt.Errorf("read: %w: %v", ErrClosed, err)
		}

		switch {
		case b == stx:
			// A fresh STX always starts a telegram, discarding any
			// partial payload from a mid-stream connect.
			l.inTelegram = true
			l.payload = l.payload[:0]
		case b == etx && l.inTelegram:
			l.inTelegram = false
			out := make([]byte, len(l.payload))
			copy(out, l.payload)
			return out, nil
		case l.inTelegram:
			l.payload = append(l.payload, b)
		}
	}
}

// Close releases the socket. Idempotent.
func (l *SensorLink) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func classifyDialError(address string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("connect %s: %w", address, ErrTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("connect %s: %w", address, ErrTimeout)
	}
	return fmt.Errorf("connect %s: %w: %v", address, ErrUnreachable, err)
}
