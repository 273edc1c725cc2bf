// Package eventstore holds the hub's bounded in-memory projections: the
// alert ring, the per-student chat ring, and the student presence registry.
// The two rings are bounded and drop their oldest entry when full; the
// presence registry is unbounded. Nothing here survives a restart — durable
// audit trail is storage.Store's job.
package eventstore

import (
	"sync"

	"github.com/controledu/classroom/internal/wire"
)

// AlertCapacity is the maximum number of alert events retained in memory
// before the oldest is dropped.
const AlertCapacity = 1500

// ChatCapacityPerStudent is the maximum number of chat messages retained per
// student before the oldest is dropped.
const ChatCapacityPerStudent = 300

// AlertRing is a capacity-bounded, drop-oldest store of recent AlertEvents.
type AlertRing struct {
	mu     sync.RWMutex
	byID   map[string]wire.AlertEvent
	order  []string // insertion order, oldest first
}

// NewAlertRing constructs an empty AlertRing.
func NewAlertRing() *AlertRing {
	return &AlertRing{byID: make(map[string]wire.AlertEvent)}
}

// Add inserts alert, evicting the oldest entry if the ring is at capacity.
func (r *AlertRing) Add(alert wire.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[alert.EventID]; !exists {
		r.order = append(r.order, alert.EventID)
	}
	r.byID[alert.EventID] = alert

	for len(r.order) > AlertCapacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, oldest)
	}
}

// Recent returns up to n of the most recently added alerts, newest last.
// n<=0 returns everything retained.
func (r *AlertRing) Recent(n int) []wire.AlertEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if n > 0 && n < len(r.order) {
		start = len(r.order) - n
	}
	out := make([]wire.AlertEvent, 0, len(r.order)-start)
	for _, id := range r.order[start:] {
		out = append(out, r.byID[id])
	}
	return out
}

// ForStudent returns the retained alerts for a single clientID, oldest first.
func (r *AlertRing) ForStudent(clientID string) []wire.AlertEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []wire.AlertEvent
	for _, id := range r.order {
		if a := r.byID[id]; a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out
}

// chatRingEntry is one student's bounded message history.
type chatRingEntry struct {
	messages []wire.ChatMessage // oldest first, trimmed to ChatCapacityPerStudent
}

// ChatRing holds a bounded per-student chat history.
type ChatRing struct {
	mu       sync.RWMutex
	students map[string]*chatRingEntry
}

// NewChatRing constructs an empty ChatRing.
func NewChatRing() *ChatRing {
	return &ChatRing{students: make(map[string]*chatRingEntry)}
}

// Add appends msg to clientID's history, dropping the oldest message once the
// per-student cap is exceeded.
func (c *ChatRing) Add(clientID string, msg wire.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.students[clientID]
	if !ok {
		e = &chatRingEntry{}
		c.students[clientID] = e
	}
	e.messages = append(e.messages, msg)
	if over := len(e.messages) - ChatCapacityPerStudent; over > 0 {
		e.messages = e.messages[over:]
	}
}

// Recent returns up to n of clientID's most recent messages, oldest first.
// n<=0 returns the full retained history.
func (c *ChatRing) Recent(clientID string, n int) []wire.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.students[clientID]
	if !ok {
		return nil
	}
	if n <= 0 || n >= len(e.messages) {
		out := make([]wire.ChatMessage, len(e.messages))
		copy(out, e.messages)
		return out
	}
	out := make([]wire.ChatMessage, n)
	copy(out, e.messages[len(e.messages)-n:])
	return out
}

// StudentPresence is one row of the presence registry.
type StudentPresence struct {
	ClientID           string
	HostName           string
	UserName           string
	LocalIP            string
	IsOnline           bool
	DetectionEnabled   bool
	LastSeenUtc        int64
	LastDetectionClass wire.DetectionClass
}

// ToSummary converts p to the wire DTO sent to teacher consoles.
func (p StudentPresence) ToSummary() wire.StudentSummary {
	class := ""
	if p.LastDetectionClass != wire.ClassNone {
		class = p.LastDetectionClass.String()
	}
	return wire.StudentSummary{
		ClientID: p.ClientID, HostName: p.HostName, UserName: p.UserName,
		LocalIP: p.LocalIP, IsOnline: p.IsOnline, DetectionEnabled: p.DetectionEnabled,
		LastSeenUtc: p.LastSeenUtc, LastDetectionClass: class,
	}
}

// PresenceRegistry is the hub's live view of every student that has ever
// registered this server run, keyed by clientId. Unlike AlertRing/ChatRing
// it is unbounded (one row per paired device, not per event), mirroring
// room.go's unbounded r.clients map.
type PresenceRegistry struct {
	mu       sync.RWMutex
	students map[string]StudentPresence
}

// NewPresenceRegistry constructs an empty PresenceRegistry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{students: make(map[string]StudentPresence)}
}

// Upsert stores or replaces clientID's presence row.
func (p *PresenceRegistry) Upsert(s StudentPresence) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.students[s.ClientID] = s
}

// SetOnline flips clientID's online flag, no-op if clientID is unknown.
func (p *PresenceRegistry) SetOnline(clientID string, online bool, lastSeenUtc int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.students[clientID]
	if !ok {
		return
	}
	s.IsOnline = online
	s.LastSeenUtc = lastSeenUtc
	p.students[clientID] = s
}

// SetLastDetection records the most recent detection class observed for
// clientID, no-op if clientID is unknown.
func (p *PresenceRegistry) SetLastDetection(clientID string, class wire.DetectionClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.students[clientID]
	if !ok {
		return
	}
	s.LastDetectionClass = class
	p.students[clientID] = s
}

// Get returns clientID's presence row, if any.
func (p *PresenceRegistry) Get(clientID string) (StudentPresence, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.students[clientID]
	return s, ok
}

// List returns every known student, in no particular order.
func (p *PresenceRegistry) List() []StudentPresence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]StudentPresence, 0, len(p.students))
	for _, s := range p.students {
		out = append(out, s)
	}
	return out
}

// Remove deletes clientID's presence row entirely, used on ForceUnpair/revoke.
func (p *PresenceRegistry) Remove(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.students, clientID)
}
