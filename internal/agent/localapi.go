package agent

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/controledu/classroom/internal/localstore"
	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/wire"
)

// uiCommandCapacity bounds the queue of UI-bound commands awaiting a shell
// poll; oldest entries are dropped first, same as the hub's alert ring.
const uiCommandCapacity = 256

// actionQueueCapacity bounds shell-posted actions awaiting the main loop.
const actionQueueCapacity = 64

// UICommand is one server-initiated command held for the desktop shell:
// teacher chat, TTS, an accessibility profile, or a remote-control
// lifecycle/input command.
type UICommand struct {
	Method        string `json:"method"`
	Payload       []byte `json:"payload,omitempty"`
	ReceivedAtUtc int64  `json:"receivedAtUtc"`
}

// shellAction is a user action posted by the shell, forwarded to the hub by
// the main loop on its next drain pass. The loop stamps the clientId so the
// shell cannot speak for another device.
type shellAction struct {
	method  string
	payload any
}

// LocalStatus is the loop-maintained snapshot served by GET /local/status.
type LocalStatus struct {
	Paired     bool   `json:"paired"`
	ServerName string `json:"serverName,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
	Connected  bool   `json:"connected"`

	LastCheckUtc int64                `json:"lastCheckUtc,omitempty"`
	LastResult   wire.DetectionResult `json:"lastResult,omitempty"`
}

// LocalAPI is the student endpoint's loopback-only HTTP surface. The desktop shell — an external collaborator, like the capture
// and input-injection layers — polls it for UI-bound commands and posts
// back the user's actions (hand-raise, chat, remote-control approval).
// Every request must carry the boot-scoped bearer token in
// X-Controledu-LocalToken.
type LocalAPI struct {
	echo  *echo.Echo
	token string
	store *localstore.Store
	log   *telemetry.Logger

	mu       sync.Mutex
	status   LocalStatus
	commands []UICommand

	actions chan shellAction
}

// NewLocalAPI builds the loopback surface. token is minted per boot by the
// caller and shared with the shell out of band (a file in the data dir).
func NewLocalAPI(token string, store *localstore.Store, log *telemetry.Logger) *LocalAPI {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	a := &LocalAPI{
		echo:    e,
		token:   token,
		store:   store,
		log:     log,
		actions: make(chan shellAction, actionQueueCapacity),
	}

	g := e.Group("/local", a.tokenGuard)
	g.GET("/health", a.handleHealth)
	g.GET("/status", a.handleStatus)
	g.GET("/commands", a.handleCommands)
	g.POST("/signal", a.handleSignal)
	g.POST("/chat", a.handleChat)
	g.POST("/remote-control/status", a.handleRemoteControlStatus)
	return a
}

// Echo exposes the underlying instance for tests.
func (a *LocalAPI) Echo() *echo.Echo { return a.echo }

func (a *LocalAPI) tokenGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		presented := c.Request().Header.Get(wire.LocalTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "local token required")
		}
		return next(c)
	}
}

// Run serves on addr (loopback only; wire.LocalPort by convention) until
// ctx is cancelled.
func (a *LocalAPI) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := a.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.echo.Shutdown(shutCtx)
		return nil
	}
}

// PushCommand enqueues a UI-bound command for the shell's next poll,
// dropping the oldest entry when the queue is full.
func (a *LocalAPI) PushCommand(method string, payload []byte) {
	cmd := UICommand{Method: method, Payload: payload, ReceivedAtUtc: time.Now().UTC().UnixMilli()}
	a.mu.Lock()
	if len(a.commands) >= uiCommandCapacity {
		a.commands = a.commands[1:]
	}
	a.commands = append(a.commands, cmd)
	a.mu.Unlock()
}

// SetStatus replaces the status snapshot; called only from the main loop.
func (a *LocalAPI) SetStatus(st LocalStatus) {
	a.mu.Lock()
	a.status = st
	a.mu.Unlock()
}

// actionQueue hands the pending shell actions to the main loop's drain
// pass.
func (a *LocalAPI) actionQueue() <-chan shellAction { return a.actions }

func (a *LocalAPI) enqueueAction(method string, payload any) error {
	select {
	case a.actions <- shellAction{method: method, payload: payload}:
		return nil
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent busy; retry")
	}
}

func (a *LocalAPI) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, struct {
		Status string `json:"status"`
	}{"ok"})
}

func (a *LocalAPI) handleStatus(c echo.Context) error {
	a.mu.Lock()
	st := a.status
	a.mu.Unlock()

	if state, ok, _ := a.store.LoadDetectionState(); ok {
		st.LastCheckUtc = state.LastCheckUtc
		st.LastResult = state.LastResult
	}
	return c.JSON(http.StatusOK, st)
}

func (a *LocalAPI) handleCommands(c echo.Context) error {
	a.mu.Lock()
	batch := a.commands
	a.commands = nil
	a.mu.Unlock()
	if batch == nil {
		batch = []UICommand{}
	}
	return c.JSON(http.StatusOK, batch)
}

func (a *LocalAPI) handleSignal(c echo.Context) error {
	var req struct {
		SignalType string `json:"signalType"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SignalType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "signalType is required")
	}
	if err := a.enqueueAction(wire.MethodSendStudentSignal, wire.StudentSignalEvent{
		SignalType: req.SignalType, TimestampUtc: time.Now().UTC().UnixMilli(),
	}); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *LocalAPI) handleChat(c echo.Context) error {
	var req struct {
		Text              string `json:"text"`
		SenderDisplayName string `json:"senderDisplayName"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if err := a.enqueueAction(wire.MethodSendChatMessage, wire.ChatMessage{
		TimestampUtc: time.Now().UTC().UnixMilli(), SenderRole: wire.SenderStudent,
		SenderDisplayName: req.SenderDisplayName, Text: req.Text,
	}); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *LocalAPI) handleRemoteControlStatus(c echo.Context) error {
	var req wire.RemoteControlStatus
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId is required")
	}
	if err := a.enqueueAction(wire.MethodReportRemoteControlStatus, req); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}
