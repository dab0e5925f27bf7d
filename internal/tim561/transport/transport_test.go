package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// fakeSensor is a one-connection TCP listener standing in for the device.
// The handler gets the accepted connection after the listener has consumed
// the stream-enable command, so handlers only deal with scan traffic.
type fakeSensor struct {
	t        *testing.T
	listener net.Listener
	done     chan struct{}
}

func startFakeSensor(t *testing.T, handler func(conn net.Conn)) *fakeSensor {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSensor{t: t, listener: ln, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, len(streamEnable))
		if _, err := readFull(conn, buf); err != nil {
			t.Errorf("fake sensor: reading stream enable: %v", err)
			return
		}
		if !bytes.Equal(buf, streamEnable) {
			t.Errorf("fake sensor: got command %q, want %q", buf, streamEnable)
			return
		}
		conn.SetReadDeadline(time.Time{})
		handler(conn)
	}()

	t.Cleanup(func() {
		ln.Close()
		<-s.done
	})
	return s
}

func (s *fakeSensor) address() string {
	return s.listener.Addr().String()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func frame(payload string) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, stx)
	out = append(out, payload...)
	out = append(out, etx)
	return out
}

func testConfig(address string) Config {
	return Config{
		Address:        address,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		PollInterval:   20 * time.Millisecond,
	}
}

func TestConnectSendsStreamEnable(t *testing.T) {
	t.Parallel()

	// startFakeSensor fails the test if the handshake never arrives or
	// carries the wrong bytes; the handler just confirms traffic flows.
	sensor := startFakeSensor(t, func(conn net.Conn) {
		conn.Write(frame("sSN LMDscandata ok"))
	})

	link, err := Connect(context.Background(), testConfig(sensor.address()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Close()

	got, err := link.ReadTelegram(context.Background())
	if err != nil {
		t.Fatalf("ReadTelegram: %v", err)
	}
	if want := "sSN LMDscandata ok"; string(got) != want {
		t.Errorf("telegram = %q, want %q", got, want)
	}
}

func TestReadTelegramFraming(t *testing.T) {
	t.Parallel()

	sensor := startFakeSensor(t, func(conn net.Conn) {
		// Garbage before the first STX must be discarded, and multiple
		// telegrams in one write must come out one at a time.
		conn.Write([]byte("noise"))
		conn.Write(frame("first"))
		conn.Write(append(frame("second"), frame("third")...))
	})

	link, err := Connect(context.Background(), testConfig(sensor.address()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Close()

	for _, want := range []string{"first", "second", "third"} {
		got, err := link.ReadTelegram(context.Background())
		if err != nil {
			t.Fatalf("ReadTelegram: %v", err)
		}
		if string(got) != want {
			t.Errorf("telegram = %q, want %q", got, want)
		}
	}
}

func TestReadTelegramSplitAcrossWrites(t *testing.T) {
	t.Parallel()

	full := frame("split telegram payload")
	sensor := startFakeSensor(t, func(conn net.Conn) {
		// Drip the telegram in three chunks with gaps longer than the
		// poll interval, so the partial payload survives poll deadlines.
		third := len(full) / 3
		for _, chunk := range [][]byte{full[:third], full[third : 2*third], full[2*third:]} {
			conn.Write(chunk)
			time.Sleep(60 * time.Millisecond)
		}
	})

	link, err := Connect(context.Background(), testConfig(sensor.address()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Close()

	got, err := link.ReadTelegram(context.Background())
	if err != nil {
		t.Fatalf("ReadTelegram: %v", err)
	}
	if want := "split telegram payload"; string(got) != want {
		t.Errorf("telegram = %q, want %q", got, want)
	}
}

func TestReadTelegramLivenessTimeout(t *testing.T) {
	t.Parallel()

	sensor := startFakeSensor(t, func(conn net.Conn) {
		// Silent sensor: hold the connection open without sending.
		time.Sleep(2 * time.Second)
	})

	cfg := testConfig(sensor.address())
	cfg.ReadTimeout = 150 * time.Millisecond
	link, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Close()

	start := time.Now()
	_, err = link.ReadTelegram(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadTelegram error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s, want about %s", elapsed, cfg.ReadTimeout)
	}
}

func TestReadTelegramPeerClose(t *testing.T) {
	t.Parallel()

	sensor := startFakeSensor(t, func(conn net.Conn) {
		conn.Write([]byte{stx, 'h', 'a', 'l', 'f'}) // never finishes the frame
	})

	link, err := Connect(context.Background(), testConfig(sensor.address()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Close()

	_, err = link.ReadTelegram(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("ReadTelegram error = %v, want ErrClosed", err)
	}
}

func TestReadTelegramContextCancellation(t *testing.T) {
	t.Parallel()

	sensor := startFakeSensor(t, func(conn net.Conn) {
		time.Sleep(2 * time.Second)
	})

	link, err := Connect(context.Background(), testConfig(sensor.address()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := link.ReadTelegram(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ReadTelegram error = %v, want context.Canceled", err)
		}
		// Cancellation is observed within one poll interval, not the
		// liveness deadline.
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("cancellation took %s", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadTelegram did not return after cancellation")
	}
}

func TestConnectRefused(t *testing.T) {
	t.Parallel()

	// Grab a port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	address := ln.Addr().String()
	ln.Close()

	_, err = Connect(context.Background(), testConfig(address))
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Connect error = %v, want ErrUnreachable", err)
	}
}

func TestConnectCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Connect(ctx, testConfig("192.0.2.1:2112")) // TEST-NET, never routable
	if err == nil {
		t.Fatal("Connect succeeded with a cancelled context")
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	sensor := startFakeSensor(t, func(conn net.Conn) {})

	link, err := Connect(context.Background(), testConfig(sensor.address()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
