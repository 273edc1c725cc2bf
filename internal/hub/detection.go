package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/controledu/classroom/internal/errkind"
	"github.com/controledu/classroom/internal/wire"
)

func errUnknownMethod(method string) error {
	return errkind.Newf(errkind.Protocol, "hub: unknown method %q", method)
}

// emitAlert records result as an AlertEvent, updates the presence registry's
// last-seen detection class, and pushes it to every teacher console.
func (h *Hub) emitAlert(clientID string, result wire.DetectionResult, thumbnail []byte, at time.Time) {
	alert := wire.AlertEvent{
		DetectionResult: result,
		EventID:         uuid.NewString(),
		ClientID:        clientID,
		TimestampUtc:    at.UTC().UnixMilli(),
		Thumbnail:       thumbnail,
	}
	if p, ok := h.presence.Get(clientID); ok {
		alert.StudentDisplayName = p.UserName
	}

	h.alerts.Add(alert)
	h.presence.SetLastDetection(clientID, result.Class)
	if h.metrics != nil {
		h.metrics.DetectionAlerts.WithLabelValues(result.Class.String()).Inc()
	}
	h.pushToTeachers(wire.EventAlertReceived, alert)
}
