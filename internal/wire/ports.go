// Package wire defines the transport-level contract shared by the teacher
// server and every student agent: port numbers, hub method names, discovery
// payloads, and the JSON DTOs carried over the hub and HTTP surfaces.
package wire

// Network ports, fixed by the protocol.
const (
	// DiscoveryPort is the UDP port the teacher server listens on for LAN
	// discovery probes.
	DiscoveryPort = 40555
	// HubPort is the TCP port serving the teacher HTTP API and both hub
	// channels (WebSocket upgrade + long-poll fallback).
	HubPort = 40556
	// LocalPort is the loopback-only port a student agent exposes for its
	// own local HTTP surface (status, diagnostics), gated by a bearer token.
	LocalPort = 40557
)

// LocalTokenHeader is the bearer header required on the student's local HTTP
// surface.
const LocalTokenHeader = "X-Controledu-LocalToken"

// StudentTokenHeader authenticates a student's file-transfer download calls.
const StudentTokenHeader = "X-Controledu-Token"

// AdminPasswordHeader carries the teacher console's admin password on
// administrative HTTP routes, once one has been set on the server.
const AdminPasswordHeader = "X-Controledu-Admin"

// ChunkHashHeader carries the SHA-256 of a single chunk body, both on upload
// (client-supplied, server verifies) and on download (server-supplied, client
// verifies).
const ChunkHashHeader = "X-Chunk-Sha256"

// DefaultChunkSize is the default file-transfer chunk size (256 KiB).
const DefaultChunkSize = 256 * 1024

// MaxHubMessageBytes bounds a single hub envelope (JSON frame).
const MaxHubMessageBytes = 4 * 1024 * 1024

// DiscoveryProbe is the exact byte sequence a student broadcasts/multicasts
// to find a teacher server.
const DiscoveryProbe = "DISCOVER_CONTROLEDU"

// DiscoveryReplyPrefix begins every discovery reply payload.
const DiscoveryReplyPrefix = "CONTROLEDU_HERE"

// DiscoveryMulticastGroup is joined by the responder to tolerate
// broadcast-filtered network segments.
const DiscoveryMulticastGroup = "239.255.77.55"
