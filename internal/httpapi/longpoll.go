package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/controledu/classroom/internal/hub"
	"github.com/controledu/classroom/internal/wire"
)

// Long-poll fallback transport: networks that block WebSocket
// upgrades still get a working hub connection. A long-poll session is a
// hub.Session fed by an lpConn whose outbound queue is drained by repeated
// GET polls instead of a live socket writer goroutine — the same
// Session.Handle dispatch the WebSocket transport uses, so behavior (and
// the identity-binding invariant) can't drift between transports.

const (
	lpPollTimeout = 25 * time.Second
	lpIdleTTL     = 2 * time.Minute
	lpQueueDepth  = 64
)

// lpConn buffers outbound envelopes for one long-poll session between polls.
type lpConn struct {
	mu       sync.Mutex
	pending  []wire.Envelope
	wake     chan struct{}
	lastSeen time.Time
}

func newLPConn() *lpConn {
	return &lpConn{wake: make(chan struct{}, 1), lastSeen: time.Now()}
}

func (c *lpConn) Send(env wire.Envelope) error {
	c.mu.Lock()
	if len(c.pending) >= lpQueueDepth {
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, env)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *lpConn) drain() []wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *lpConn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *lpConn) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

type lpEntry struct {
	conn    *lpConn
	session *hub.Session
}

// lpRegistry holds every live long-poll session, keyed by a server-minted
// session token the client echoes on every subsequent poll/send/close call.
type lpRegistry struct {
	mu sync.Mutex
	m  map[string]*lpEntry
}

func newLPRegistry() *lpRegistry { return &lpRegistry{m: make(map[string]*lpEntry)} }

func (r *lpRegistry) put(id string, e *lpEntry) {
	r.mu.Lock()
	r.m[id] = e
	r.mu.Unlock()
}

func (r *lpRegistry) get(id string) (*lpEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[id]
	return e, ok
}

func (r *lpRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

// reapIdle closes and drops sessions that haven't been polled within
// lpIdleTTL, mirroring a transport-level disconnect.
func (r *lpRegistry) reapIdle() {
	r.mu.Lock()
	stale := make([]*lpEntry, 0)
	for id, e := range r.m {
		if time.Since(e.conn.idleSince()) > lpIdleTTL {
			stale = append(stale, e)
			delete(r.m, id)
		}
	}
	r.mu.Unlock()
	for _, e := range stale {
		e.session.Close()
	}
}

func (s *Server) registerLongPollRoutes() {
	s.lp = newLPRegistry()
	go s.reapLongPollLoop()

	s.echo.POST("/api/lp/student/open", func(c echo.Context) error {
		return s.lpOpen(c, func(conn hub.Conn) *hub.Session { return hub.NewStudentSession(s.hub, conn) })
	})
	s.echo.POST("/api/lp/teacher/open", func(c echo.Context) error {
		return s.lpOpen(c, func(conn hub.Conn) *hub.Session { return hub.NewTeacherSession(s.hub, conn) })
	}, s.adminGuard)
	s.echo.POST("/api/lp/:sessionId/send", s.lpSend)
	s.echo.GET("/api/lp/:sessionId/poll", s.lpPoll)
	s.echo.POST("/api/lp/:sessionId/close", s.lpClose)
}

func (s *Server) reapLongPollLoop() {
	ticker := time.NewTicker(lpIdleTTL / 2)
	defer ticker.Stop()
	for range ticker.C {
		s.lp.reapIdle()
	}
}

func (s *Server) lpOpen(c echo.Context, newSession func(hub.Conn) *hub.Session) error {
	conn := newLPConn()
	session := newSession(conn)
	id := uuid.NewString()
	s.lp.put(id, &lpEntry{conn: conn, session: session})
	return c.JSON(http.StatusOK, struct {
		SessionID string `json:"sessionId"`
	}{id})
}

func (s *Server) lpSend(c echo.Context) error {
	id := c.Param("sessionId")
	entry, ok := s.lp.get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown long-poll session")
	}
	entry.conn.touch()

	var env wire.Envelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reply := entry.session.Handle(env)
	return c.JSON(http.StatusOK, reply)
}

func (s *Server) lpPoll(c echo.Context) error {
	id := c.Param("sessionId")
	entry, ok := s.lp.get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown long-poll session")
	}
	entry.conn.touch()

	if batch := entry.conn.drain(); len(batch) > 0 {
		return c.JSON(http.StatusOK, batch)
	}

	select {
	case <-entry.conn.wake:
	case <-time.After(lpPollTimeout):
	case <-c.Request().Context().Done():
		return nil
	}
	return c.JSON(http.StatusOK, entry.conn.drain())
}

func (s *Server) lpClose(c echo.Context) error {
	id := c.Param("sessionId")
	entry, ok := s.lp.get(id)
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	entry.session.Close()
	s.lp.remove(id)
	return c.NoContent(http.StatusNoContent)
}
