// Package ws serves game hosts over websocket. Each connection is one host
// session: the host reports block changes, awards and progress queries, and
// the relay answers with spawns, progress views and errors.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"badgeup.io/relay/internal/host"
	"badgeup.io/relay/internal/progress"
	"badgeup.io/relay/internal/protocol"
)

// Runtime is what a session needs from the relay. *relay.Runtime satisfies it.
type Runtime interface {
	BlockChange(msg protocol.BlockChangeMsg) (int, error)
	Progress(ctx context.Context, subject string) ([]progress.Entry, error)
	Grant(ctx context.Context, world host.World, msg protocol.AwardMsg) error
}

// ProgressView renders entries for the wire. relay.ProgressEntries satisfies it.
type ProgressView func([]progress.Entry) []protocol.ProgressEntry

type Server struct {
	rt   Runtime
	view ProgressView
	log  *log.Logger

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewServer(rt Runtime, view ProgressView, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		rt:   rt,
		view: view,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // hosts are not browsers
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  map[*websocket.Conn]struct{}{},
	}
}

// Shutdown closes every session, cancels in-flight work and waits for it.
func (s *Server) Shutdown() {
	s.cancel()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// track registers a connection and counts its handler in s.wg. It refuses
// once Shutdown has started, so no handler joins the group after Wait.
func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			return
		}
		defer s.untrack(conn)

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.printf("ws: session %s host=%q open", sess.id, sess.hostName)

		ctx, cancel := context.WithCancel(s.ctx)
		sess.ctx = ctx
		defer cancel()

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.route(sess, msg)
		}
		sess.work.Wait()
		<-writerDone
		s.printf("ws: session %s closed", sess.id)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closePolicy(conn, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return nil
	}
	if hello.HostName == "" {
		hello.HostName = "host"
	}

	sess := newSession(uuid.NewString(), hello)
	if err := writeJSON(conn, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
	}); err != nil {
		return nil
	}
	return sess
}

func (s *Server) route(sess *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		sess.sendError("", protocol.Wrap(protocol.ErrProtoBadRequest, "", err))
		return
	}
	if base.ProtocolVersion != protocol.Version {
		sess.sendError("", protocol.Errorf(protocol.ErrProtoBadRequest, "protocol_version", "want %s", protocol.Version))
		return
	}

	switch base.Type {
	case protocol.TypeBlockBreak, protocol.TypeBlockPlace:
		var m protocol.BlockChangeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			sess.sendError("", protocol.Wrap(protocol.ErrProtoBadRequest, "", err))
			return
		}
		if _, err := s.rt.BlockChange(m); err != nil {
			s.printf("ws: session %s %s: %v", sess.id, base.Type, err)
			sess.sendError("", err)
		}

	case protocol.TypeAward:
		var m protocol.AwardMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			sess.sendError("", protocol.Wrap(protocol.ErrProtoBadRequest, "", err))
			return
		}
		// Awards only touch host registries and the outbound queue.
		if err := s.rt.Grant(sess.ctx, sess, m); err != nil {
			s.printf("ws: session %s award for %s: %v", sess.id, m.PlayerID, err)
			sess.sendError("", err)
		}

	case protocol.TypeProgressReq:
		var m protocol.ProgressReqMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			sess.sendError("", protocol.Wrap(protocol.ErrProtoBadRequest, "", err))
			return
		}
		// Remote I/O: never on the reader goroutine.
		s.wg.Add(1)
		sess.work.Add(1)
		go func() {
			defer s.wg.Done()
			defer sess.work.Done()
			s.answerProgress(sess, m)
		}()

	default:
		sess.sendError("", protocol.Errorf(protocol.ErrProtoBadRequest, "type", "unknown message type %q", base.Type))
	}
}

func (s *Server) answerProgress(sess *session, m protocol.ProgressReqMsg) {
	defer func() {
		if r := recover(); r != nil {
			s.printf("ws: session %s progress panic: %v", sess.id, r)
			sess.sendError(m.ReqID, protocol.Errorf(protocol.ErrInternal, "", "internal error"))
		}
	}()
	entries, err := s.rt.Progress(sess.ctx, m.PlayerID)
	if err != nil {
		s.printf("ws: session %s progress for %s: %v", sess.id, m.PlayerID, err)
		sess.sendError(m.ReqID, err)
		return
	}
	sess.send(protocol.ProgressMsg{
		Type:            protocol.TypeProgress,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		Entries:         s.view(entries),
	})
}

func (s *Server) printf(format string, args ...any) {
	if s != nil && s.log != nil {
		s.log.Printf(format, args...)
	}
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
