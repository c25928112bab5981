package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/hub"
	"conveyor/internal/logging"
)

const (
	streamHandshakeTimeout = 10 * time.Second
	streamMaxFrame         = 256 * 1024
)

// streamConn adapts a net.Conn to the hub connection contract using
// newline-delimited JSON frames.
type streamConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *streamConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := c.conn.Write(buf)
	return err
}

func (c *streamConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

func (c *streamConn) Close() error { return c.conn.Close() }

func (c *streamConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// streamHello is the first frame a client sends after dialing. The owner id is
// mandatory; a pipeline id subscribes immediately so no events are missed
// between connect and a follow-up subscribe command.
type streamHello struct {
	OwnerID    string `json:"ownerId"`
	PipelineID string `json:"pipelineId,omitempty"`
}

type streamServer struct {
	bind   string
	logger *slog.Logger
	hub    *hub.Hub

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newStreamServer(cfg *config.Config, h *hub.Hub, logger *slog.Logger) (*streamServer, error) {
	if cfg == nil || h == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.StreamBind)
	if bind == "" {
		return nil, nil
	}
	return &streamServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "stream-server"),
		hub:    h,
	}, nil
}

func (s *streamServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("stream listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				logging.WarnWithContext(s.logger, "accept failed", "stream_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "stream clients may fail to connect"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.serveConn(c)
			}(conn)
		}
	}()

	s.logger.Info("stream server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *streamServer) serveConn(conn net.Conn) {
	sc := &streamConn{conn: conn}

	// Force-close when the server shuts down so wg.Wait does not hang on
	// long-lived watchers.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), streamMaxFrame)

	_ = conn.SetReadDeadline(time.Now().Add(streamHandshakeTimeout))
	if !scanner.Scan() {
		_ = conn.Close()
		return
	}
	var hello streamHello
	if err := json.Unmarshal(bytes.TrimSpace(scanner.Bytes()), &hello); err != nil {
		s.reject(sc, "invalid handshake")
		return
	}
	if err := s.hub.Connect(sc, hello.OwnerID, hello.PipelineID); err != nil {
		s.reject(sc, err.Error())
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.logger.Debug("stream client connected",
		logging.String("remote", sc.RemoteAddr()),
		logging.String("owner_id", hello.OwnerID))

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s.hub.HandleInbound(sc, line)
	}
	s.hub.Disconnect(sc)
}

func (s *streamServer) reject(sc *streamConn, reason string) {
	msg := hub.Message{Type: hub.MessageError, Message: reason, Timestamp: time.Now()}
	if data, err := json.Marshal(msg); err == nil {
		_ = sc.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = sc.Send(data)
	}
	_ = sc.Close()
}

func (s *streamServer) stop() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.wg.Wait()
}

func (s *streamServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
