package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/storage"
)

// Client uploads finished recordings to the transcription service.
//
// Every call opens a fresh connection, streams the container as the body of
// a single POST and closes the connection again. Calls are serialised.
type Client struct {
	config  Config
	store   storage.Store
	dialer  Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics

	// callMu serialises requests; conn is only touched while it is held.
	callMu sync.Mutex
	conn   net.Conn

	// Statistics
	totalRequests   uint64
	results         map[Kind]uint64
	bytesSent       uint64
	keepAliveCloses uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Host        string
	Port        int
	Path        string
	APIKey      string
	AuthScheme  string // "Token" for Deepgram, "Bearer" for compatible gateways
	Model       string
	Language    string // empty enables detect_language
	SmartFormat bool
	Keywords    []string

	TLS                bool
	InsecureSkipVerify bool

	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	PollInterval    time.Duration
	ChunkSize       int
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64            `json:"total_requests"`
	Results         map[string]uint64 `json:"results"`
	SuccessRate     float64           `json:"success_rate"`
	BytesSent       uint64            `json:"bytes_sent"`
	KeepAliveCloses uint64            `json:"keepalive_closes"`
	AvgResponseTime time.Duration     `json:"avg_response_time"`
}

// Option customises a Client.
type Option func(*Client)

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates a new transcription client reading containers from store.
// m may be nil.
func NewClient(config Config, store storage.Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Client, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}

	if config.Port < 1 || config.Port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Path == "" {
		config.Path = "/v1/listen"
	}

	if config.AuthScheme == "" {
		config.AuthScheme = "Token"
	}

	if config.Model == "" {
		config.Model = "nova-2-general"
	}

	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 5 * time.Second
	}

	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = 10 * time.Second
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Millisecond
	}

	if config.ChunkSize <= 0 {
		config.ChunkSize = 1024
	}

	c := &Client{
		config:  config,
		store:   store,
		logger:  logger,
		metrics: m,
		results: make(map[Kind]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = newDialer(config)
	}

	return c, nil
}

// Address returns the host:port the client connects to.
func (c *Client) Address() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// RequestTarget returns the path and query of the upload request.
func (c *Client) RequestTarget() string {
	q := "model=" + url.QueryEscape(c.config.Model)
	if c.config.Language != "" {
		q += "&language=" + url.QueryEscape(c.config.Language)
	} else {
		q += "&detect_language=true"
	}
	if c.config.SmartFormat {
		q += "&smart_format=true"
	}
	for _, kw := range c.config.Keywords {
		q += "&keywords=" + url.QueryEscape(kw)
	}
	return c.config.Path + "?" + q
}

func (c *Client) requestHeader(contentLength int64) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "POST %s HTTP/1.1\r\n", c.RequestTarget())
	fmt.Fprintf(&b, "Host: %s\r\n", c.config.Host)
	fmt.Fprintf(&b, "Authorization: %s %s\r\n", c.config.AuthScheme, c.config.APIKey)
	b.WriteString("Content-Type: audio/wav\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", contentLength)
	b.WriteString("\r\n")
	return b.Bytes()
}

// Transcribe uploads the finished container filename and returns the outcome.
// It never returns an error: every failure is encoded in Result.Kind.
func (c *Client) Transcribe(ctx context.Context, filename string) Result {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	start := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordTranscriptionRequest()

	res := c.transcribe(ctx, filename, start)
	res.Latency = time.Since(start)

	c.recordResult(res)
	c.metrics.RecordTranscriptionResult(res.Kind.String(), res.Latency.Seconds())
	c.metrics.RecordUpload(res.BytesSent)

	attrs := []any{
		slog.String("file", filename),
		slog.String("kind", res.Kind.String()),
		slog.Int64("bytes_sent", res.BytesSent),
		slog.Duration("latency", res.Latency),
		slog.Duration("connect", res.Timing.Connected),
		slog.Duration("header", res.Timing.HeaderSent),
		slog.Duration("body", res.Timing.BodySent),
		slog.Duration("response", res.Timing.Response),
	}
	if res.Err != nil {
		attrs = append(attrs, slog.String("error", res.Err.Error()))
	}
	if res.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", res.ErrorCode))
	}
	switch res.Kind {
	case KindTranscript, KindNoSpeech:
		c.logger.Info("Transcription finished", attrs...)
	default:
		c.logger.Warn("Transcription failed", attrs...)
	}

	return res
}

func (c *Client) transcribe(ctx context.Context, filename string, start time.Time) Result {
	c.closeConn()

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.Address())
	cancel()
	if err != nil {
		return Result{Kind: KindConnectFailure, Err: fmt.Errorf("failed to connect to %s: %w", c.Address(), err)}
	}
	c.conn = conn
	defer c.closeConn()

	res := Result{Timing: Timing{Connected: time.Since(start)}}

	size, err := c.store.Size(ctx, filename)
	if err != nil {
		res.Kind, res.Err = KindUploadFailure, fmt.Errorf("failed to stat recording: %w", err)
		return res
	}

	if n := drain(conn); n > 0 {
		c.logger.Debug("Discarded stale inbound bytes", slog.Int("bytes", n))
	}

	file, err := c.store.Open(ctx, filename)
	if err != nil {
		res.Kind, res.Err = KindUploadFailure, fmt.Errorf("failed to open recording: %w", err)
		return res
	}
	defer file.Close()

	if err := c.writeAll(conn, c.requestHeader(size)); err != nil {
		res.Kind, res.Err = KindUploadFailure, fmt.Errorf("failed to send request header: %w", err)
		return res
	}
	res.Timing.HeaderSent = time.Since(start)

	sent, err := c.upload(conn, io.LimitReader(file, size), size)
	res.BytesSent = sent
	if err != nil {
		res.Kind, res.Err = KindUploadFailure, err
		return res
	}
	res.Timing.BodySent = time.Since(start)

	raw, outcome, pollErr := pollResponse(ctx, conn, time.Now().Add(c.config.ResponseTimeout), c.config.PollInterval)
	res.Timing.Response = time.Since(start)

	rep := parseReply(raw)
	if rep.hasJSON {
		parsed := rep.result
		parsed.BytesSent, parsed.Timing = res.BytesSent, res.Timing
		return parsed
	}

	// Without a JSON body there is no error marker and no transcript, so the
	// call produced no usable reply.
	res.Kind = KindTimeout
	res.StatusCode = rep.statusCode
	switch {
	case pollErr != nil:
		res.Err = fmt.Errorf("reading reply failed after %d bytes: %w", len(raw), pollErr)
	case outcome == pollDeadline:
		res.Err = fmt.Errorf("no reply within %s (%d bytes received)", c.config.ResponseTimeout, len(raw))
	case len(raw) == 0:
		res.Err = errors.New("connection closed without a reply")
	default:
		res.Err = fmt.Errorf("reply without JSON body (status %d, %d bytes)", rep.statusCode, len(raw))
	}
	return res
}

// upload streams body in chunks of the configured size, verifying each write.
func (c *Client) upload(conn net.Conn, body io.Reader, size int64) (int64, error) {
	buf := make([]byte, c.config.ChunkSize)
	var sent int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := c.writeAll(conn, buf[:n]); err != nil {
				return sent, fmt.Errorf("upload write failed at byte %d: %w", sent, err)
			}
			sent += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return sent, fmt.Errorf("failed to read recording at byte %d: %w", sent, readErr)
		}
	}

	if sent != size {
		return sent, fmt.Errorf("recording shrank during upload: sent %d of %d bytes", sent, size)
	}
	return sent, nil
}

func (c *Client) writeAll(conn net.Conn, p []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.config.ResponseTimeout)); err != nil {
		return err
	}
	n, err := conn.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return nil
}

// closeConn force-closes and forgets the current connection.
func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("Error closing connection", slog.String("error", err.Error()))
	}
	c.conn = nil
}

// KeepAlive drains and closes a connection left open between calls.
// Transcribe already closes its connection before returning, so this only
// finds work when a connection outlived its call. It reports whether a
// connection was closed.
func (c *Client) KeepAlive() bool {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.conn == nil {
		return false
	}

	if n := drain(c.conn); n > 0 {
		c.logger.Debug("Keepalive discarded stale bytes", slog.Int("bytes", n))
	}
	c.closeConn()

	c.mu.Lock()
	c.keepAliveCloses++
	c.mu.Unlock()
	c.metrics.RecordKeepAliveClose()
	return true
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) recordResult(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[res.Kind]++
	c.bytesSent += uint64(res.BytesSent)

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = res.Latency
	} else {
		c.avgResponseTime = (c.avgResponseTime + res.Latency) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]uint64, len(c.results))
	for kind, n := range c.results {
		results[kind.String()] = n
	}

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.results[KindTranscript]+c.results[KindNoSpeech]) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		Results:         results,
		SuccessRate:     successRate,
		BytesSent:       c.bytesSent,
		KeepAliveCloses: c.keepAliveCloses,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Close releases any open connection.
func (c *Client) Close() error {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	c.closeConn()
	return nil
}
