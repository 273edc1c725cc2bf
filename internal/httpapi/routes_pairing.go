package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/controledu/classroom/internal/pairing"
	"github.com/controledu/classroom/internal/wire"
)

func (s *Server) handlePairingPin(c echo.Context) error {
	code, expiresAtUtc, err := s.pairingMgr.GeneratePin(pairing.DefaultPinLifetime)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, wire.PairingPinResponse{
		Pin: code, ExpiresAtUtc: expiresAtUtc.UTC().UnixMilli(),
	})
}

// pairingTokenTTL is the lifetime of a freshly-minted binding token.
const pairingTokenTTL = 365 * 24 * time.Hour

func (s *Server) handlePairingComplete(c echo.Context) error {
	var req wire.PairingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if !s.pairingMgr.TryConsume(req.Pin) {
		return echo.NewHTTPError(http.StatusUnauthorized, "pairing: pin is invalid or expired")
	}

	id, err := s.pairingMgr.Complete(req.HostName, req.UserName, req.OsDescription, req.LocalIP, pairingTokenTTL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, wire.PairingResponse{
		ServerID: s.identity.ServerID, ServerName: s.identity.DisplayName, BaseURL: s.baseURL,
		Fingerprint: s.identity.Fingerprint, ClientID: id.ClientID, Token: id.Token,
		TokenExpiresUtc: id.TokenExpiresUtc,
	})
}
