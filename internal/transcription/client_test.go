package transcription

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voicecap/internal/audio"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// receivedRequest is what the fake service saw.
type receivedRequest struct {
	req  *http.Request
	body []byte
}

// fakeService accepts one connection at a time on loopback, parses the
// request and lets respond write whatever it likes back.
type fakeService struct {
	ln       net.Listener
	requests chan receivedRequest
}

func startFakeService(t *testing.T, respond func(conn net.Conn, rr receivedRequest)) *fakeService {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeService{ln: ln, requests: make(chan receivedRequest, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				req, err := http.ReadRequest(bufio.NewReader(conn))
				if err != nil {
					return
				}
				body, _ := io.ReadAll(req.Body)
				rr := receivedRequest{req: req, body: body}
				s.requests <- rr
				respond(conn, rr)
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeService) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func jsonResponse(body string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

func respondWith(raw string) func(net.Conn, receivedRequest) {
	return func(conn net.Conn, _ receivedRequest) {
		io.WriteString(conn, raw)
	}
}

func writeRecording(t *testing.T, samples int) (*storage.Local, []byte) {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	pcm := make([]int16, samples)
	audio.FillTone(pcm, 440, 16000, 4000)
	data, err := audio.EncodeWAV(pcm, 16000)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path("Audio.wav"), data, 0o644))
	return store, data
}

func testClientConfig(port int) Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            port,
		Path:            "/v1/listen",
		APIKey:          "test-key",
		AuthScheme:      "Token",
		Model:           "nova-2-general",
		Language:        "en",
		SmartFormat:     true,
		ConnectTimeout:  time.Second,
		ResponseTimeout: 2 * time.Second,
		PollInterval:    10 * time.Millisecond,
		ChunkSize:       1024,
	}
}

func newTestClient(t *testing.T, cfg Config, store storage.Store, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(cfg, store, testLogger(), nil, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Port: 443, APIKey: "k"}, nil, testLogger(), nil)
	assert.Error(t, err)
	_, err = NewClient(Config{Host: "h", Port: 0, APIKey: "k"}, nil, testLogger(), nil)
	assert.Error(t, err)
	_, err = NewClient(Config{Host: "h", Port: 443}, nil, testLogger(), nil)
	assert.Error(t, err)

	c, err := NewClient(Config{Host: "api.deepgram.com", Port: 443, APIKey: "k"}, nil, testLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Token", c.config.AuthScheme)
	assert.Equal(t, 1024, c.config.ChunkSize)
	assert.Equal(t, 10*time.Second, c.config.ResponseTimeout)
	assert.Equal(t, "api.deepgram.com:443", c.Address())
}

func TestRequestTarget(t *testing.T) {
	cfg := testClientConfig(443)
	cfg.Keywords = []string{"hello", "ESP32", "two words"}
	c := newTestClient(t, cfg, nil)
	assert.Equal(t,
		"/v1/listen?model=nova-2-general&language=en&smart_format=true&keywords=hello&keywords=ESP32&keywords=two+words",
		c.RequestTarget())

	cfg = testClientConfig(443)
	cfg.Language = ""
	cfg.SmartFormat = false
	c = newTestClient(t, cfg, nil)
	assert.Equal(t, "/v1/listen?model=nova-2-general&detect_language=true", c.RequestTarget())
}

func TestTranscribeReturnsTranscript(t *testing.T) {
	svc := startFakeService(t, respondWith(jsonResponse(deepgramReply)))
	store, data := writeRecording(t, 8000)
	c := newTestClient(t, testClientConfig(svc.port()), store)

	res := c.Transcribe(context.Background(), "Audio.wav")
	require.Equal(t, KindTranscript, res.Kind, "err: %v", res.Err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "hello world", res.Message())
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, int64(len(data)), res.BytesSent)
	assert.Greater(t, res.Latency, time.Duration(0))
	assert.LessOrEqual(t, res.Timing.HeaderSent, res.Timing.BodySent)

	rr := <-svc.requests
	assert.Equal(t, http.MethodPost, rr.req.Method)
	assert.Equal(t, "/v1/listen", rr.req.URL.Path)
	q := rr.req.URL.Query()
	assert.Equal(t, "nova-2-general", q.Get("model"))
	assert.Equal(t, "en", q.Get("language"))
	assert.Equal(t, "true", q.Get("smart_format"))
	assert.Equal(t, "127.0.0.1", rr.req.Host)
	assert.Equal(t, "Token test-key", rr.req.Header.Get("Authorization"))
	assert.Equal(t, "audio/wav", rr.req.Header.Get("Content-Type"))
	assert.Equal(t, int64(len(data)), rr.req.ContentLength)
	assert.Empty(t, rr.req.TransferEncoding)
	assert.Equal(t, data, rr.body)
}

func TestTranscribeServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    Kind
		message string
	}{
		{"slow upload", `{"err_code":"SLOW_UPLOAD","err_msg":"too slow"}`, KindServerError, MessageSlowUpload},
		{"generic", `{"err_code":"INVALID_AUTH","err_msg":"bad key"}`, KindServerError, MessageServerError},
		{"no speech", `{"metadata":{},"results":{"channels":[{"alternatives":[{"transcript":""}]}]}}`, KindNoSpeech, MessageNoSpeech},
		{"neither marker", `{"hello":"there"}`, KindNoSpeech, MessageNoSpeech},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := startFakeService(t, respondWith(jsonResponse(tt.body)))
			store, _ := writeRecording(t, 1600)
			c := newTestClient(t, testClientConfig(svc.port()), store)

			res := c.Transcribe(context.Background(), "Audio.wav")
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.message, res.Message())
		})
	}
}

func TestTranscribeTimeout(t *testing.T) {
	release := make(chan struct{})
	svc := startFakeService(t, func(conn net.Conn, _ receivedRequest) {
		<-release
	})
	defer close(release)

	store, _ := writeRecording(t, 1600)
	cfg := testClientConfig(svc.port())
	cfg.ResponseTimeout = 200 * time.Millisecond
	c := newTestClient(t, cfg, store)

	start := time.Now()
	res := c.Transcribe(context.Background(), "Audio.wav")
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Empty(t, res.Message())
	assert.Greater(t, res.BytesSent, int64(0), "the body must have been uploaded before the wait")
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestTranscribeConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	store, _ := writeRecording(t, 1600)
	c := newTestClient(t, testClientConfig(port), store)

	res := c.Transcribe(context.Background(), "Audio.wav")
	assert.Equal(t, KindConnectFailure, res.Kind)
	assert.Error(t, res.Err)
	assert.Zero(t, res.BytesSent)
	assert.NotEqual(t, KindTimeout, res.Kind)
}

func TestTranscribeMissingFile(t *testing.T) {
	svc := startFakeService(t, respondWith(jsonResponse(deepgramReply)))
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	c := newTestClient(t, testClientConfig(svc.port()), store)

	res := c.Transcribe(context.Background(), "missing.wav")
	assert.Equal(t, KindUploadFailure, res.Kind)
	assert.ErrorIs(t, res.Err, os.ErrNotExist)
}

// shortConn accepts only limit bytes in total and reports short writes after that.
type shortConn struct {
	net.Conn
	limit int
}

func (s *shortConn) Write(p []byte) (int, error) {
	if len(p) > s.limit {
		n, err := s.Conn.Write(p[:s.limit])
		s.limit = 0
		return n, err
	}
	s.limit -= len(p)
	return s.Conn.Write(p)
}

type shortDialer struct {
	limit int
}

func (d shortDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return &shortConn{Conn: conn, limit: d.limit}, nil
}

func TestTranscribeShortWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, conn)
		}
	}()

	store, data := writeRecording(t, 8000)
	c := newTestClient(t, testClientConfig(ln.Addr().(*net.TCPAddr).Port), store, WithDialer(shortDialer{limit: 2000}))

	res := c.Transcribe(context.Background(), "Audio.wav")
	assert.Equal(t, KindUploadFailure, res.Kind)
	assert.Less(t, res.BytesSent, int64(len(data)))
	assert.Contains(t, res.Err.Error(), "short write")
}

func TestTranscribeWaitsForDeclaredBody(t *testing.T) {
	body := `{"results":{"channels":[{"alternatives":[{"transcript":"late body"}]}]}}`
	svc := startFakeService(t, func(conn net.Conn, _ receivedRequest) {
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", len(body))
		time.Sleep(100 * time.Millisecond)
		io.WriteString(conn, body)
	})
	store, _ := writeRecording(t, 1600)
	c := newTestClient(t, testClientConfig(svc.port()), store)

	res := c.Transcribe(context.Background(), "Audio.wav")
	assert.Equal(t, KindTranscript, res.Kind)
	assert.Equal(t, "late body", res.Text)
}

func TestTranscribeReadsUntilClose(t *testing.T) {
	svc := startFakeService(t, respondWith("HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n"+`{"transcript":"closed stream"}`))
	store, _ := writeRecording(t, 1600)
	c := newTestClient(t, testClientConfig(svc.port()), store)

	res := c.Transcribe(context.Background(), "Audio.wav")
	assert.Equal(t, KindTranscript, res.Kind)
	assert.Equal(t, "closed stream", res.Text)
}

func TestTranscribeReplyWithoutJSON(t *testing.T) {
	svc := startFakeService(t, respondWith("HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n"))
	store, _ := writeRecording(t, 1600)
	c := newTestClient(t, testClientConfig(svc.port()), store)

	res := c.Transcribe(context.Background(), "Audio.wav")
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Equal(t, 502, res.StatusCode)
	assert.Empty(t, res.Message())
	assert.Empty(t, res.ErrorCode)
}

func TestTranscribeConnectionClosedWithoutReply(t *testing.T) {
	svc := startFakeService(t, func(net.Conn, receivedRequest) {})
	store, data := writeRecording(t, 1600)
	c := newTestClient(t, testClientConfig(svc.port()), store)

	start := time.Now()
	res := c.Transcribe(context.Background(), "Audio.wav")
	assert.Equal(t, KindTimeout, res.Kind)
	assert.NotEqual(t, KindServerError, res.Kind)
	assert.Empty(t, res.Message())
	assert.Zero(t, res.StatusCode)
	assert.Equal(t, int64(len(data)), res.BytesSent)
	assert.Contains(t, res.Err.Error(), "closed without a reply")
	assert.Less(t, time.Since(start), testClientConfig(0).ResponseTimeout, "a closed stream must not wait for the deadline")
}

func TestTranscribeClosesStaleConnection(t *testing.T) {
	svc := startFakeService(t, respondWith(jsonResponse(deepgramReply)))
	store, _ := writeRecording(t, 1600)
	c := newTestClient(t, testClientConfig(svc.port()), store)

	stale, peer := net.Pipe()
	defer peer.Close()
	c.conn = stale

	res := c.Transcribe(context.Background(), "Audio.wav")
	assert.Equal(t, KindTranscript, res.Kind)

	peer.SetReadDeadline(time.Now().Add(time.Second))
	_, err := peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "stale connection should have been closed")
	assert.Nil(t, c.conn, "connection must not be retained after a call")
	assert.False(t, c.KeepAlive(), "nothing is left open after a completed call")
}

func TestKeepAlive(t *testing.T) {
	c := newTestClient(t, testClientConfig(443), nil)
	assert.False(t, c.KeepAlive(), "nothing to close when idle")

	idle, peer := net.Pipe()
	defer peer.Close()
	c.conn = idle

	go peer.Write([]byte("stray bytes from an earlier reply"))
	assert.True(t, c.KeepAlive())
	assert.Nil(t, c.conn)
	assert.Equal(t, uint64(1), c.GetStats().KeepAliveCloses)
}

func TestTranscribeOverTLS(t *testing.T) {
	seen := make(chan url.Values, 1)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Authorization") != "Token test-key" || len(body) == 0 {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"err_code":"INVALID_AUTH"}`)
			return
		}
		seen <- r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, deepgramReply)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := testClientConfig(port)
	cfg.TLS = true
	cfg.InsecureSkipVerify = true
	cfg.Language = ""
	cfg.Keywords = []string{"hello", "world"}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	store, _ := writeRecording(t, 4000)
	c, err := NewClient(cfg, store, testLogger(), m)
	require.NoError(t, err)
	_, isTLS := c.dialer.(*tls.Dialer)
	assert.True(t, isTLS)

	res := c.Transcribe(context.Background(), "Audio.wav")
	require.Equal(t, KindTranscript, res.Kind, "err: %v", res.Err)
	assert.Equal(t, "hello world", res.Text)

	q := <-seen
	assert.Equal(t, "true", q.Get("detect_language"))
	assert.Equal(t, []string{"hello", "world"}, q["keywords"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionResults.WithLabelValues("transcript")))
}

func TestGetStats(t *testing.T) {
	svc := startFakeService(t, respondWith(jsonResponse(deepgramReply)))
	store, data := writeRecording(t, 1600)
	c := newTestClient(t, testClientConfig(svc.port()), store)

	c.Transcribe(context.Background(), "Audio.wav")
	c.Transcribe(context.Background(), "missing.wav")

	stats := c.GetStats()
	assert.Equal(t, uint64(2), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.Results["transcript"])
	assert.Equal(t, uint64(1), stats.Results["upload_failure"])
	assert.Equal(t, uint64(len(data)), stats.BytesSent)
	assert.InDelta(t, 50.0, stats.SuccessRate, 1e-9)
}
