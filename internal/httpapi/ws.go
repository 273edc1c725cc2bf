package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/controledu/classroom/internal/hub"
	"github.com/controledu/classroom/internal/wire"
)

const wsWriteTimeout = 5 * time.Second

// wsConn adapts one gorilla/websocket connection to hub.Conn: a buffered
// outbound queue drained by a dedicated writer goroutine, so Session.Handle
// (called from the reader goroutine) blocks on a slow peer only once the
// queue is already full.
type wsConn struct {
	conn *websocket.Conn
	out  chan wire.Envelope
	done chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, out: make(chan wire.Envelope, 64), done: make(chan struct{})}
}

func (c *wsConn) Send(env wire.Envelope) error {
	select {
	case c.out <- env:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case env, ok := <-c.out:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

var errConnClosed = websocket.ErrCloseSent

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// serveHubWS upgrades the request and drives session until the peer
// disconnects or a read error occurs.
func serveHubWS(c echo.Context, newSession func(hub.Conn) *hub.Session) error {
	raw, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := newWSConn(raw)
	defer func() {
		conn.close()
		raw.Close()
	}()

	session := newSession(conn)
	defer session.Close()

	go conn.writeLoop()

	raw.SetReadLimit(wire.MaxHubMessageBytes)
	for {
		var env wire.Envelope
		if err := raw.ReadJSON(&env); err != nil {
			return nil
		}
		reply := session.Handle(env)
		_ = conn.Send(reply)
	}
}
