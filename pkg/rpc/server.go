package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSocketPath is the well-known control socket location.
const DefaultSocketPath = "/tmp/procguard.sock"

const (
	maxLineSize       = 1024 * 1024
	replyWriteTimeout = time.Second
	acceptRetryDelay  = 50 * time.Millisecond
)

// Server handles control-plane communication over a unix socket.
// Every connection is served by its own goroutine; decoded commands are
// pushed onto a shared Queue and the server never processes them itself.
type Server struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	path     string
	queue    *Queue
	logger   *slog.Logger
	listener net.Listener
	sessions map[string]*connSession
}

// NewServer creates a server for the socket at path delivering into queue.
func NewServer(path string, queue *Queue, logger *slog.Logger) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		path:     path,
		queue:    queue,
		logger:   logger.With("component", "rpc"),
		sessions: make(map[string]*connSession),
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen removes a stale socket left at the path, then binds it.
// A bind failure is returned to the caller, which must not serve.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove stale socket", "path", s.path, "error", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("control socket listening", "path", s.path)
	return nil
}

// Serve accepts connections until ctx is cancelled. It closes every open
// connection and removes the socket file before returning.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rpc server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		sess := newConnSession(conn)
		s.track(sess)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(sess)
			s.handleConn(sess)
		}()
	}

	s.closeSessions()
	s.wg.Wait()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove socket", "path", s.path, "error", err)
	}
	s.logger.Info("control socket closed", "path", s.path)
	return nil
}

// handleConn reads line-delimited commands until EOF or a read error.
// A line that fails to decode or exceeds maxLineSize is logged and skipped.
func (s *Server) handleConn(sess *connSession) {
	defer sess.Close()

	logger := s.logger.With("conn", sess.id)
	logger.Debug("client connected")

	reader := bufio.NewReaderSize(sess.conn, 64*1024)
	var buf []byte
	for {
		line, err := readLine(reader, buf)
		if errors.Is(err, errLineTooLong) {
			logger.Warn("command line too long, skipping", "limit", maxLineSize)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !sess.isClosed() {
				logger.Error("failed to read from client", "error", err)
				return
			}
			break
		}
		buf = line

		cmd, err := DecodeCommand(line)
		if err != nil {
			if errors.Is(err, ErrEmptyLine) {
				continue
			}
			logger.Warn("failed to parse command", "error", err)
			continue
		}

		if !s.queue.Push(Envelope{Command: cmd, Session: sess}) {
			logger.Error("no consumer for command, dropping", "type", cmd.Type, "pid", cmd.Pid())
		}
	}
	logger.Debug("client disconnected")
}

var errLineTooLong = errors.New("line exceeds maximum size")

// readLine returns the next newline-terminated line, reusing buf. An
// unterminated final line is returned as is. A line longer than
// maxLineSize is consumed entirely and reported as errLineTooLong.
func readLine(r *bufio.Reader, buf []byte) ([]byte, error) {
	buf = buf[:0]
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize+1 {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return nil, errLineTooLong
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		return buf, nil
	}
}

func (s *Server) track(sess *connSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Server) untrack(sess *connSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.id)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.Close()
	}
}

// connSession is one accepted connection. Replies may be written from
// several goroutines, so writes are serialized.
type connSession struct {
	id   string
	conn net.Conn

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConnSession(conn net.Conn) *connSession {
	return &connSession{id: uuid.NewString(), conn: conn, done: make(chan struct{})}
}

func (c *connSession) ID() string {
	return c.id
}

// Reply writes r as one line. The write is bounded by a deadline so a
// client that never reads cannot stall the caller.
func (c *connSession) Reply(r Reply) error {
	data, err := EncodeLine(r)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(replyWriteTimeout)); err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *connSession) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	_ = c.conn.Close()
}

func (c *connSession) Done() <-chan struct{} {
	return c.done
}

func (c *connSession) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
