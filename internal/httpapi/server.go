// Package httpapi is the teacher server's REST surface and hub transport:
// Echo routes for pairing, audit, detection policy/events, file transfer,
// student administration, and detection-alert exports, plus the WebSocket
// upgrade (and long-poll fallback) that hands connections to internal/hub.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/controledu/classroom/internal/eventstore"
	"github.com/controledu/classroom/internal/hub"
	"github.com/controledu/classroom/internal/pairing"
	"github.com/controledu/classroom/internal/remotectrl"
	"github.com/controledu/classroom/internal/storage"
	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/transfer"
	"github.com/controledu/classroom/internal/wire"
)

// echoValidator adapts go-playground/validator to echo.Validator.
type echoValidator struct{ v *validator.Validate }

func (e *echoValidator) Validate(i any) error { return e.v.Struct(i) }

// Server is the teacher's Echo application plus every dependency its
// handlers need.
type Server struct {
	echo *echo.Echo

	store      *storage.Store
	pairingMgr *pairing.Manager
	hub        *hub.Hub
	transfers  *transfer.Coordinator
	remote     *remotectrl.Service
	alerts     *eventstore.AlertRing

	identity wire.ServerIdentity
	baseURL  string

	exportsDir string
	lp         *lpRegistry

	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// Deps bundles the constructor arguments for New, since the teacher server
// has a lot of wired collaborators.
type Deps struct {
	Store      *storage.Store
	PairingMgr *pairing.Manager
	Hub        *hub.Hub
	Transfers  *transfer.Coordinator
	Remote     *remotectrl.Service
	Alerts     *eventstore.AlertRing
	Identity   wire.ServerIdentity
	BaseURL    string
	ExportsDir string
	Log        *telemetry.Logger
	Metrics    *telemetry.Metrics
}

// New constructs the Echo application and registers every route.
func New(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &echoValidator{v: validator.New()}
	e.Use(middleware.Recover())
	e.Use(requestLogger(d.Log))

	s := &Server{
		echo: e, store: d.Store, pairingMgr: d.PairingMgr, hub: d.Hub,
		transfers: d.Transfers, remote: d.Remote, alerts: d.Alerts, identity: d.Identity,
		baseURL: d.BaseURL, exportsDir: d.ExportsDir, log: d.Log, metrics: d.Metrics,
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func requestLogger(log *telemetry.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			if log != nil {
				log.Info(c.Request().Method + " " + c.Request().URL.Path + " " +
					http.StatusText(c.Response().Status) + " " + time.Since(start).String())
			}
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/api/server/health", s.handleHealth)
	s.echo.GET("/api/server/identity", s.handleIdentity)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Student-facing routes authenticate per request: pairing/complete by
	// one-shot PIN, the transfer and export routes by binding token.
	s.echo.POST("/api/pairing/complete", s.handlePairingComplete)
	s.echo.POST("/api/files/:transferId/missing", s.handleMissing)
	s.echo.GET("/api/files/:transferId/chunk/:index", s.handleDownloadChunk)
	s.echo.POST("/api/detection/exports/upload", s.handleExportUpload)

	s.echo.GET("/ws/student", func(c echo.Context) error {
		return serveHubWS(c, func(conn hub.Conn) *hub.Session { return hub.NewStudentSession(s.hub, conn) })
	})

	// Everything below is the teacher console's administrative surface,
	// gated by the admin password once one has been set.
	adm := s.echo.Group("", s.adminGuard)

	adm.POST("/api/pairing/pin", s.handlePairingPin)

	adm.GET("/api/audit/latest", s.handleAuditLatest)

	adm.GET("/api/detection/settings", s.handleGetDetectionSettings)
	adm.PUT("/api/detection/settings", s.handlePutDetectionSettings)
	adm.GET("/api/detection/events", s.handleDetectionEvents)

	adm.POST("/api/files/upload/init", s.handleUploadInit)
	adm.PUT("/api/files/upload/:transferId/chunk/:index", s.handleUploadChunk)
	adm.POST("/api/files/:transferId/dispatch", s.handleDispatch)

	adm.GET("/api/detection/exports/list", s.handleExportList)
	adm.GET("/api/detection/exports/download/:exportId", s.handleExportDownload)

	adm.DELETE("/api/students/:clientId", s.handleRevokeStudent)
	adm.POST("/api/students/:clientId/tts", s.handleStudentTts)
	adm.POST("/api/students/:clientId/chat", s.handleStudentChat)
	adm.POST("/api/students/:clientId/accessibility-profile", s.handleStudentAccessibilityProfile)
	adm.POST("/api/students/:clientId/request-export", s.handleStudentRequestExport)

	adm.GET("/api/groups", s.handleListGroups)
	adm.PUT("/api/groups", s.handlePutGroup)
	adm.DELETE("/api/groups/:groupId", s.handleDeleteGroup)

	adm.GET("/api/announcement", s.handleGetAnnouncement)
	adm.POST("/api/announcement", s.handlePostAnnouncement)

	adm.GET("/ws/teacher", func(c echo.Context) error {
		return serveHubWS(c, func(conn hub.Conn) *hub.Session { return hub.NewTeacherSession(s.hub, conn) })
	})

	s.registerLongPollRoutes()
}

// adminGuard enforces the console admin password on administrative routes.
// Until a password is set (first run) the surface stays open, matching the
// LAN-only deployment default.
func (s *Server) adminGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		hash, required, err := pairing.AdminPasswordHash(s.store)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !required {
			return next(c)
		}
		if !pairing.VerifyPassword(c.Request().Header.Get(wire.AdminPasswordHeader), hash) {
			return echo.NewHTTPError(http.StatusUnauthorized, "admin password required")
		}
		return next(c)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	UtcNow int64  `json:"utc"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", UtcNow: time.Now().UTC().UnixMilli()})
}

func (s *Server) handleIdentity(c echo.Context) error {
	return c.JSON(http.StatusOK, s.identity)
}

// Run starts the Echo server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
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
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}
