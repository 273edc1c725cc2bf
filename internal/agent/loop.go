// Package agent implements the student endpoint's cooperative main loop:
// a single goroutine that paces heartbeats, frame capture, detection, and
// inbound command draining by due-time, reconnecting the hub connection
// with backoff when it breaks.
package agent

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/controledu/classroom/internal/detection"
	"github.com/controledu/classroom/internal/hubclient"
	"github.com/controledu/classroom/internal/localstore"
	"github.com/controledu/classroom/internal/secretbox"
	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/wire"
)

// FPS/quality bounds and adaptation buckets.
const (
	minFPS     = 1
	maxFPS     = 15
	minQuality = 20
	maxQuality = 90

	bucketSevereMs   = 220
	bucketModerateMs = 140
	bucketFastMs     = 55
)

// Config bundles everything the loop needs beyond the binding it loads at
// start.
type Config struct {
	HubWSURL    string // e.g. ws://host:40556/ws/student
	BaseURL     string // e.g. http://host:40556
	DownloadDir string

	HeartbeatInterval time.Duration

	Capturer  Capturer
	Store     *localstore.Store
	Protector secretbox.Protector
	Log       *telemetry.Logger

	// BinaryClassifier/MulticlassClassifier are the optional Stage C ML
	// detectors; nil disables the corresponding stage, same as
	// detection.NewPipeline.
	BinaryClassifier     detection.Classifier
	MulticlassClassifier detection.Classifier

	// Local is the optional loopback surface for the desktop shell; nil
	// runs the agent headless (UI-bound commands are dropped after drain).
	Local *LocalAPI
}

// Loop drives one student agent's connection lifecycle end to end.
type Loop struct {
	cfg Config

	client *hubclient.Client

	fps     int
	quality int

	pipeline *detection.Pipeline
	policy   wire.DetectionPolicy

	lastFrame     Frame
	haveLastFrame bool

	binding localstore.Binding
	token   string

	nextHeartbeat time.Time
	nextCapture   time.Time
	nextDetection time.Time
	nextReconnect time.Time
	reconnectTry  int
}

// NewLoop constructs a Loop with default adaptive-capture starting values.
func NewLoop(cfg Config) *Loop {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	return &Loop{cfg: cfg, fps: 5, quality: 70}
}

// Run blocks, driving the agent loop until ctx is cancelled. It returns nil
// on clean cancellation.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if l.client != nil {
				l.client.Close()
			}
			return nil
		default:
		}

		if !l.ensureBinding() {
			l.sleep(ctx, 1*time.Second)
			continue
		}

		if !l.ensureConnected(ctx) {
			l.sleep(ctx, 50*time.Millisecond)
			continue
		}

		now := time.Now()

		if !l.nextHeartbeat.After(now) {
			l.sendHeartbeat(ctx)
		}
		if !l.nextCapture.After(now) {
			l.captureAndSend(ctx)
		}
		if !l.nextDetection.After(now) {
			l.runDetection(ctx)
		}

		l.drainEvents(ctx)

		l.sleepUntilNextDue(ctx)
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// sleepUntilNextDue sleeps to the nearest next due time, bounded to
// [1ms, 50ms].
func (l *Loop) sleepUntilNextDue(ctx context.Context) {
	now := time.Now()
	next := l.nextHeartbeat
	for _, t := range []time.Time{l.nextCapture, l.nextDetection} {
		if t.Before(next) {
			next = t
		}
	}
	wait := next.Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	if wait > 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	l.sleep(ctx, wait)
}

// ensureBinding loads the current binding from local storage. It returns
// false (and the loop idles) when no binding exists yet, e.g. before first
// pairing or after a ForceUnpair.
func (l *Loop) ensureBinding() bool {
	b, ok, err := l.cfg.Store.LoadBinding()
	if err != nil || !ok {
		return false
	}
	plain, err := l.cfg.Protector.Unprotect(b.ProtectedToken)
	if err != nil {
		return false
	}
	l.binding = b
	l.token = string(plain)
	return true
}

func (l *Loop) ensureConnected(ctx context.Context) bool {
	if l.client != nil && !l.client.Broken() {
		return true
	}
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}

	now := time.Now()
	if now.Before(l.nextReconnect) {
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := hubclient.Dial(dialCtx, l.cfg.HubWSURL)
	if err != nil {
		l.scheduleReconnect()
		return false
	}

	var ack wire.RegisterAck
	err = client.Call(ctx, wire.MethodRegister, wire.RegisterRequest{
		ClientID: l.binding.ClientID, Token: l.token,
	}, &ack)
	if err != nil || !ack.OK {
		client.Close()
		l.scheduleReconnect()
		return false
	}

	l.client = client
	l.reconnectTry = 0
	l.nextHeartbeat = time.Now()
	l.nextCapture = time.Now()
	l.fetchPolicy(ctx)
	return true
}

// scheduleReconnect applies exponential backoff capped at 30s, then adds up
// to a quarter of that backoff as jitter (so at most 37.5s).
func (l *Loop) scheduleReconnect() {
	l.reconnectTry++
	backoff := time.Duration(1<<uint(min(l.reconnectTry, 5))) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
	l.nextReconnect = time.Now().Add(backoff + jitter)
}

func (l *Loop) fetchPolicy(ctx context.Context) {
	var policy wire.DetectionPolicy
	if err := l.client.Call(ctx, wire.MethodGetDetectionPolicy, nil, &policy); err != nil {
		return
	}
	l.policy = policy
	l.pipeline = detection.NewPipeline(policy, l.cfg.BinaryClassifier, l.cfg.MulticlassClassifier)
}

func (l *Loop) sendHeartbeat(ctx context.Context) {
	err := l.client.Call(ctx, wire.MethodHeartbeat, wire.HeartbeatRequest{
		ClientID: l.binding.ClientID, UtcNow: time.Now().UTC().UnixMilli(),
	}, nil)
	if err != nil && l.cfg.Log != nil {
		l.cfg.Log.Error(err, "heartbeat failed")
	}
	l.nextHeartbeat = time.Now().Add(l.cfg.HeartbeatInterval)
}

func (l *Loop) captureAndSend(ctx context.Context) {
	frame, err := l.cfg.Capturer.Capture(l.quality)
	if err != nil {
		if l.cfg.Log != nil {
			l.cfg.Log.Error(err, "frame capture failed")
		}
		l.nextCapture = time.Now().Add(time.Second)
		return
	}
	l.lastFrame = frame
	l.haveLastFrame = true

	start := time.Now()
	err = l.client.Call(ctx, wire.MethodSendFrame, wire.FramePayload{
		ClientID: l.binding.ClientID, Jpeg: frame.Jpeg, Width: frame.Width, Height: frame.Height,
		CapturedAt: start.UTC().UnixMilli(), ActiveProcessName: frame.ActiveProcessName,
		ActiveWindowTitle: frame.ActiveWindowTitle, BrowserHintURL: frame.BrowserHintURL,
	}, nil)
	elapsed := time.Since(start)
	if err != nil && l.cfg.Log != nil {
		l.cfg.Log.Error(err, "send frame failed")
	}

	l.adapt(elapsed)
	l.nextCapture = time.Now().Add(time.Second / time.Duration(l.fps))
}

// adapt moves FPS and JPEG quality through the feedback buckets based on
// the measured end-to-end send duration.
func (l *Loop) adapt(elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	switch {
	case ms > bucketSevereMs:
		l.fps = clamp(l.fps-2, minFPS, maxFPS)
		l.quality = clamp(l.quality-6, minQuality, maxQuality)
	case ms > bucketModerateMs:
		l.fps = clamp(l.fps-1, minFPS, maxFPS)
		l.quality = clamp(l.quality-3, minQuality, maxQuality)
	case ms < bucketFastMs:
		l.fps = clamp(l.fps+1, minFPS, maxFPS)
		l.quality = clamp(l.quality+1, minQuality, maxQuality)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (l *Loop) runDetection(ctx context.Context) {
	interval := l.policy.EvaluationIntervalSeconds
	if interval <= 0 {
		interval = 5
	}
	l.nextDetection = time.Now().Add(time.Duration(interval) * time.Second)

	if l.pipeline == nil || !l.haveLastFrame {
		return
	}
	obs := detection.Observation{
		ActiveProcessName: l.lastFrame.ActiveProcessName,
		ActiveWindowTitle: l.lastFrame.ActiveWindowTitle,
		BrowserHintURL:    l.lastFrame.BrowserHintURL,
	}
	now := time.Now()
	result, shouldEmit := l.pipeline.Analyze(obs, l.lastFrame.Jpeg, now)

	_ = l.cfg.Store.SaveDetectionState(localstore.DetectionState{
		LastCheckUtc: now.UTC().UnixMilli(), LastResult: result, EffectivePolicy: l.policy,
	})

	if shouldEmit {
		alert := wire.AlertEvent{DetectionResult: result, ClientID: l.binding.ClientID, TimestampUtc: now.UTC().UnixMilli()}
		if err := l.client.Call(ctx, wire.MethodSendAlert, alert, nil); err != nil && l.cfg.Log != nil {
			l.cfg.Log.Error(err, "send alert failed")
		}
	}
}

// drainEvents drains every inbound command queue, hub pushes and
// shell-posted actions, without blocking on any single one.
func (l *Loop) drainEvents(ctx context.Context) {
	for l.client != nil {
		select {
		case evt := <-l.client.Events():
			l.handleEvent(ctx, evt)
			continue
		default:
		}
		break
	}

	if l.cfg.Local == nil || l.client == nil {
		return
	}
	for {
		select {
		case act := <-l.cfg.Local.actionQueue():
			l.sendShellAction(ctx, act)
		default:
			l.publishStatus()
			return
		}
	}
}

// sendShellAction forwards one shell-posted action to the hub, stamping the
// bound clientId so the shell cannot speak for another device.
func (l *Loop) sendShellAction(ctx context.Context, act shellAction) {
	var payload any
	switch p := act.payload.(type) {
	case wire.StudentSignalEvent:
		p.ClientID = l.binding.ClientID
		payload = p
	case wire.ChatMessage:
		p.ClientID = l.binding.ClientID
		p.MessageID = uuid.NewString()
		payload = p
	case wire.RemoteControlStatus:
		p.ClientID = l.binding.ClientID
		payload = p
	default:
		return
	}
	if err := l.client.Call(ctx, act.method, payload, nil); err != nil && l.cfg.Log != nil {
		l.cfg.Log.Error(err, "shell action "+act.method+" failed")
	}
}

func (l *Loop) publishStatus() {
	l.cfg.Local.SetStatus(LocalStatus{
		Paired:     true,
		ServerName: l.binding.ServerName,
		ClientID:   l.binding.ClientID,
		Connected:  l.client != nil && !l.client.Broken(),
	})
}

func (l *Loop) handleEvent(ctx context.Context, evt hubclient.Event) {
	switch evt.Method {
	case wire.EventForceUnpair:
		_ = l.cfg.Store.ClearBinding()
		if l.client != nil {
			l.client.Close()
			l.client = nil
		}
	case wire.EventFileTransferAssigned:
		var assignment wire.FileTransferAssignment
		if json.Unmarshal(evt.Payload, &assignment) == nil {
			go l.runDownload(ctx, assignment)
		}
	case wire.EventDetectionExportRequested:
		var req wire.DetectionExportRequest
		if json.Unmarshal(evt.Payload, &req) == nil {
			go l.runExportUpload(ctx, req)
		}
	case wire.EventDetectionPolicyUpdated:
		var policy wire.DetectionPolicy
		if json.Unmarshal(evt.Payload, &policy) == nil {
			l.policy = policy
			l.pipeline = detection.NewPipeline(policy, l.cfg.BinaryClassifier, l.cfg.MulticlassClassifier)
		}
	case wire.EventAccessibilityProfileAssigned, wire.EventTeacherTtsRequested,
		wire.EventTeacherChatMessageRequested, wire.EventRemoteControlSessionCommand,
		wire.EventRemoteControlInputCommand:
		// Handled by the desktop shell's accessibility/TTS/chat/remote-
		// control UI, an external collaborator, which polls them off
		// the loopback surface.
		if l.cfg.Local != nil {
			l.cfg.Local.PushCommand(evt.Method, evt.Payload)
		}
	}
}

func (l *Loop) runDownload(ctx context.Context, assignment wire.FileTransferAssignment) {
	dm := newDownloadManager(l.cfg.BaseURL, l.binding.ClientID, l.token, l.cfg.DownloadDir, l.cfg.Store, l.cfg.Log)
	err := dm.Start(ctx, assignment)
	report := wire.FileProgressReport{
		ClientID: l.binding.ClientID, TransferID: assignment.TransferID,
		TotalChunks: assignment.TotalChunks, Done: err == nil,
	}
	if err != nil {
		report.Error = err.Error()
	} else {
		report.CompletedChunks = assignment.TotalChunks
	}
	if l.client != nil {
		_ = l.client.Call(ctx, wire.MethodReportFileProgress, report, nil)
	}
}
