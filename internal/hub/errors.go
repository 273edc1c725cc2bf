package hub

import (
	"errors"

	"github.com/controledu/classroom/internal/errkind"
)

// errRemoteControlUnavailable is returned for remote-control calls made
// before SetRemoteControlSink has wired the coordinator — the coordinator is
// an optional subsystem, so this is ExternalDegradation, not Protocol.
var errRemoteControlUnavailable = errkind.New(errkind.ExternalDegradation, errors.New("hub: remote control is not available"))
