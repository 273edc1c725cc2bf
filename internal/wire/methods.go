package wire

// Envelope is the wire format for every hub call and every server-initiated
// event: {method, id, payload}. id is set by the caller on a request and
// echoed back on the matching response; it is empty on server-initiated
// pushes, which carry Method + Payload only.
type Envelope struct {
	Method  string `json:"method"`
	ID      string `json:"id,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Student-hub methods — caller is the student agent.
const (
	MethodRegister                  = "Register"
	MethodHeartbeat                 = "Heartbeat"
	MethodSendFrame                 = "SendFrame"
	MethodSendAlert                 = "SendAlert"
	MethodSendStudentSignal         = "SendStudentSignal"
	MethodSendChatMessage           = "SendChatMessage"
	MethodReportFileProgress        = "ReportFileProgress"
	MethodReportRemoteControlStatus = "ReportRemoteControlStatus"
	MethodGetDetectionPolicy        = "GetDetectionPolicy"
)

// Teacher-hub methods — caller is the teacher console.
const (
	MethodGetStudents                 = "GetStudents"
	MethodGeneratePairingPin          = "GeneratePairingPin"
	MethodGetLatestAudit              = "GetLatestAudit"
	MethodRequestRemoteControlSession = "RequestRemoteControlSession"
	MethodStopRemoteControlSession    = "StopRemoteControlSession"
	MethodSendRemoteControlInput      = "SendRemoteControlInput"
)

// Server-initiated events — pushed from the hub to one or more connections.
const (
	EventStudentUpserted              = "StudentUpserted"
	EventStudentDisconnected          = "StudentDisconnected"
	EventStudentListChanged           = "StudentListChanged"
	EventFrameReceived                = "FrameReceived"
	EventAlertReceived                = "AlertReceived"
	EventStudentSignalReceived        = "StudentSignalReceived"
	EventChatMessageReceived          = "ChatMessageReceived"
	EventFileProgressUpdated          = "FileProgressUpdated"
	EventFileTransferAssigned         = "FileTransferAssigned"
	EventForceUnpair                  = "ForceUnpair"
	EventDetectionPolicyUpdated       = "DetectionPolicyUpdated"
	EventDetectionExportRequested     = "DetectionExportRequested"
	EventDetectionExportReady         = "DetectionExportReady"
	EventAccessibilityProfileAssigned = "AccessibilityProfileAssigned"
	EventTeacherTtsRequested          = "TeacherTtsRequested"
	EventTeacherChatMessageRequested  = "TeacherChatMessageRequested"
	EventRemoteControlSessionCommand  = "RemoteControlSessionCommand"
	EventRemoteControlInputCommand    = "RemoteControlInputCommand"
	EventRemoteControlStatusUpdated   = "RemoteControlStatusUpdated"
	EventGroupsChanged                = "GroupsChanged"
	EventAnnouncementPosted           = "AnnouncementPosted"
)
