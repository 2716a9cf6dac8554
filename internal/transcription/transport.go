package transcription

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// drainTimeout bounds how long draining waits for stray inbound bytes.
const drainTimeout = time.Millisecond

// Dialer opens the byte stream to the transcription service.
// *net.Dialer and *tls.Dialer both satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// newDialer builds the default dialer for cfg: TLS unless disabled.
func newDialer(cfg Config) Dialer {
	nd := &net.Dialer{Timeout: cfg.ConnectTimeout}
	if !cfg.TLS {
		return nd
	}
	return &tls.Dialer{
		NetDialer: nd,
		Config: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}
}

// drain reads and discards whatever is already buffered on conn.
func drain(conn net.Conn) int {
	buf := make([]byte, 512)
	total := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
			return total
		}
		n, err := conn.Read(buf)
		total += n
		if err != nil || n == 0 {
			return total
		}
	}
}

// pollOutcome describes how the response wait loop ended.
type pollOutcome int

const (
	pollQuiet    pollOutcome = iota // data arrived and then stopped
	pollComplete                    // Content-Length satisfied
	pollClosed                      // peer closed the stream
	pollDeadline                    // response deadline passed
	pollFailed                      // read error or cancelled context
)

// pollResponse accumulates the reply. It returns once bytes have arrived and a
// poll interval passes without more, the declared body is complete, the peer
// closes, or deadline passes.
func pollResponse(ctx context.Context, conn net.Conn, deadline time.Time, interval time.Duration) ([]byte, pollOutcome, error) {
	var resp []byte
	buf := make([]byte, 4096)

	for {
		if err := ctx.Err(); err != nil {
			return resp, pollFailed, err
		}

		now := time.Now()
		if !now.Before(deadline) {
			return resp, pollDeadline, nil
		}
		wait := now.Add(interval)
		if wait.After(deadline) {
			wait = deadline
		}
		if err := conn.SetReadDeadline(wait); err != nil {
			return resp, pollFailed, err
		}

		n, err := conn.Read(buf)
		resp = append(resp, buf[:n]...)

		if complete, _ := responseComplete(resp); complete {
			return resp, pollComplete, nil
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, os.ErrDeadlineExceeded):
			if n == 0 && len(resp) > 0 {
				if _, known := responseComplete(resp); !known {
					return resp, pollQuiet, nil
				}
			}
		case errors.Is(err, io.EOF):
			return resp, pollClosed, nil
		default:
			return resp, pollFailed, err
		}
	}
}
